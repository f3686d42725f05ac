package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

// OrderService drives the store-side and payment-side transitions of the order
// lifecycle. OUT_FOR_DELIVERY and DELIVERED belong to DispatchService.
type OrderService struct {
	store   port.Store
	trigger port.DispatchTrigger
	clock   port.Clock
	logger  *slog.Logger
}

func NewOrderService(store port.Store, trigger port.DispatchTrigger, clock port.Clock, logger *slog.Logger) *OrderService {
	return &OrderService{store: store, trigger: trigger, clock: clock, logger: logger}
}

// ConfirmPayment is the payment collaborator's callback.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, "", orderID, domain.OrderStatusCreated, domain.OrderStatusPaid)
}

// AcceptOrder moves a paid order into preparation and schedules a dispatch
// attempt. The attempt itself sends nothing until the order is ready.
func (s *OrderService) AcceptOrder(ctx context.Context, storeID, orderID string) (*domain.Order, error) {
	order, err := s.transition(ctx, storeID, orderID, domain.OrderStatusPaid, domain.OrderStatusPreparing)
	if err != nil {
		return nil, err
	}
	s.scheduleDispatch(order.ID)
	return order, nil
}

func (s *OrderService) MarkReady(ctx context.Context, storeID, orderID string) (*domain.Order, error) {
	order, err := s.transition(ctx, storeID, orderID, domain.OrderStatusPreparing, domain.OrderStatusReadyForPickup)
	if err != nil {
		return nil, err
	}
	s.scheduleDispatch(order.ID)
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, auth domain.AuthContext, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch auth.Role {
	case domain.RoleAdmin:
		return order, nil
	case domain.RoleUser:
		if auth.UserID != "" && auth.UserID == order.UserID {
			return order, nil
		}
	case domain.RoleStore:
		if auth.StoreID != "" && auth.StoreID == order.StoreID {
			return order, nil
		}
	case domain.RoleRider:
		if auth.PartnerID == "" {
			break
		}
		a, err := s.store.GetAssignmentByOrder(ctx, orderID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if a != nil && a.PartnerID == auth.PartnerID {
			return order, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrForbidden)
}

// Incoming lists a store's paid orders waiting to be accepted.
func (s *OrderService) Incoming(ctx context.Context, storeID string) ([]domain.Order, error) {
	if storeID == "" {
		return nil, domain.NewValidationError("store_id", "is required")
	}
	return s.store.ListOrdersByStatus(ctx, storeID, domain.OrderStatusPaid)
}

// transition applies from -> to as a conditional update. An empty storeID skips the
// ownership check.
func (s *OrderService) transition(ctx context.Context, storeID, orderID string, from, to domain.OrderStatus) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}

	var order *domain.Order
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		current, err := repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if storeID != "" && current.StoreID != storeID {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrForbidden)
		}

		now := s.clock.Now()
		ok, err := repo.UpdateOrderStatus(ctx, orderID, from, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s is %s, want %s: %w", orderID, current.Status, from, domain.ErrInvalidTransition)
		}

		current.Status = to
		current.UpdatedAt = now
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed", "order_id", orderID, "from", from, "to", to)
	return order, nil
}

func (s *OrderService) scheduleDispatch(orderID string) {
	if s.trigger == nil {
		return
	}
	if !s.trigger.Enqueue(orderID) {
		s.logger.Warn("dispatch trigger dropped", "order_id", orderID)
	}
}
