package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

type CheckoutRequest struct {
	UserID            string
	DeliveryAddressID string
	IdempotencyKey    string
}

type CheckoutService struct {
	store     port.Store
	inventory *InventoryService
	cache     port.IdempotencyCache
	clock     port.Clock
	ids       port.IDGenerator
	logger    *slog.Logger
}

// NewCheckoutService builds the service. cache may be nil, in which case
// idempotency keys are ignored.
func NewCheckoutService(store port.Store, inventory *InventoryService, cache port.IdempotencyCache, clock port.Clock, ids port.IDGenerator, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		store:     store,
		inventory: inventory,
		cache:     cache,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Checkout converts the user's cart into a CREATED order. Stock reservation, order
// creation and emptying the cart commit together or not at all.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if err := required("user_id", req.UserID, "delivery_address_id", req.DeliveryAddressID); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		idempotencyKey := fmt.Sprintf("checkout:%s:%s", req.UserID, req.IdempotencyKey)

		ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}

		order, err := s.checkout(ctx, req)
		if err != nil {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
				s.logger.Warn("release idempotency key", "key", idempotencyKey, "error", relErr)
			}
			return nil, err
		}
		return order, nil
	}

	return s.checkout(ctx, req)
}

func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		cart, err := lockCart(ctx, repo, req.UserID)
		if isNotFound(err) {
			return domain.ErrCartEmpty
		}
		if err != nil {
			return err
		}
		if cart.IsEmpty() || cart.StoreID == "" {
			return domain.ErrCartEmpty
		}

		now := s.clock.Now()
		o := domain.Order{
			ID:                s.ids.NewID(),
			UserID:            req.UserID,
			StoreID:           cart.StoreID,
			DeliveryAddressID: req.DeliveryAddressID,
			Status:            domain.OrderStatusCreated,
			TotalAmount:       decimal.Zero,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		for _, item := range cart.Items {
			product, err := repo.GetProduct(ctx, item.ProductID)
			if isNotFound(err) || (err == nil && !product.IsActive) {
				return fmt.Errorf("product %s: %w", item.ProductID, domain.ErrProductUnavailable)
			}
			if err != nil {
				return err
			}

			// The conditional decrement is the stock check; zero rows means
			// someone else bought the last units since the item was added.
			if err := s.inventory.ReserveStock(ctx, repo, item.ProductID, cart.StoreID, item.Quantity); err != nil {
				return err
			}

			o.Items = append(o.Items, domain.OrderItem{
				ID:              s.ids.NewID(),
				OrderID:         o.ID,
				ProductID:       item.ProductID,
				Quantity:        item.Quantity,
				PriceAtPurchase: item.UnitPrice,
			})
			o.TotalAmount = o.TotalAmount.Add(item.Subtotal())
		}

		if err := repo.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := repo.DeleteCartItems(ctx, cart.ID); err != nil {
			return err
		}
		if err := repo.UpdateCart(ctx, cart.ID, "", decimal.Zero, now); err != nil {
			return err
		}

		order = &o
		return nil
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			s.logger.Error("checkout failed", "user_id", req.UserID, "error", err)
		}
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID, "store_id", order.StoreID, "total", order.TotalAmount.String())
	return order, nil
}
