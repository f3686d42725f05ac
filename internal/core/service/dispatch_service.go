package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

// DefaultOfferFanout is also the most riders one dispatch will offer an order to.
const DefaultOfferFanout = 10

type DispatchConfig struct {
	Fanout    int
	QueueSize int
}

// DispatchResult describes one dispatch attempt. Assignment is set when the order
// was already taken, in which case no offers were sent.
type DispatchResult struct {
	OrderID    string
	Assignment *domain.DeliveryAssignment
	RiderIDs   []string
	OffersSent int
}

// DispatchService offers ready orders to idle riders and binds exactly one rider
// per order. Offers are advisory; the assignment transaction decides the winner.
type DispatchService struct {
	store    port.Store
	notifier port.Notifier
	clock    port.Clock
	ids      port.IDGenerator
	logger   *slog.Logger
	fanout   int

	queue  chan string
	mu     sync.RWMutex
	closed bool
}

func NewDispatchService(store port.Store, notifier port.Notifier, clock port.Clock, ids port.IDGenerator, logger *slog.Logger, cfg DispatchConfig) *DispatchService {
	if cfg.Fanout <= 0 || cfg.Fanout > DefaultOfferFanout {
		cfg.Fanout = DefaultOfferFanout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &DispatchService{
		store:    store,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		fanout:   cfg.Fanout,
		queue:    make(chan string, cfg.QueueSize),
	}
}

func (s *DispatchService) Dispatch(ctx context.Context, orderID string) (*DispatchResult, error) {
	if orderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetAssignmentByOrder(ctx, orderID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return &DispatchResult{OrderID: orderID, Assignment: existing}, nil
	}

	if order.Status != domain.DispatchEligibleStatus {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderNotEligible)
	}

	riders, err := s.store.ListEligibleRiders(ctx, s.fanout)
	if err != nil {
		return nil, err
	}
	if len(riders) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNoRidersAvailable)
	}

	result := &DispatchResult{OrderID: orderID}
	for _, r := range riders {
		s.notifier.NotifyRiderOffer(ctx, r.ID, orderID)
		result.RiderIDs = append(result.RiderIDs, r.ID)
	}
	result.OffersSent = len(result.RiderIDs)

	s.logger.Info("order dispatched", "order_id", orderID, "offers", result.OffersSent)
	return result, nil
}

// Enqueue schedules an asynchronous Dispatch. It never blocks and reports false
// when the queue is full or closed.
func (s *DispatchService) Enqueue(orderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- orderID:
		return true
	default:
		return false
	}
}

func (s *DispatchService) Queue() <-chan string {
	return s.queue
}

func (s *DispatchService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// HandleQueued runs one queued dispatch and logs the outcome. Orders that are not
// ready yet are expected here and only logged at debug level.
func (s *DispatchService) HandleQueued(ctx context.Context, orderID string) {
	_, err := s.Dispatch(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOrderNotEligible):
		s.logger.Debug("dispatch skipped", "order_id", orderID, "reason", err)
	case errors.Is(err, domain.ErrNoRidersAvailable):
		s.logger.Warn("no riders available", "order_id", orderID)
	default:
		s.logger.Error("dispatch failed", "order_id", orderID, "error", err)
	}
}

// AcceptAssignment binds riderID to orderID. Concurrent accepts for the same order
// race on the unique order_id constraint and exactly one commits.
func (s *DispatchService) AcceptAssignment(ctx context.Context, orderID, riderID string) (*domain.DeliveryAssignment, error) {
	if err := required("order_id", orderID, "rider_id", riderID); err != nil {
		return nil, err
	}

	var assignment *domain.DeliveryAssignment
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		_, err := repo.GetAssignmentByOrder(ctx, orderID)
		if err == nil {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderAlreadyAssigned)
		}
		if !isNotFound(err) {
			return err
		}

		rider, err := repo.GetRider(ctx, riderID)
		if err != nil {
			return err
		}
		if !rider.Eligible() {
			return fmt.Errorf("rider %s: %w", riderID, domain.ErrRiderUnavailable)
		}

		if _, err := repo.GetOrder(ctx, orderID); err != nil {
			return err
		}

		now := s.clock.Now()
		a := domain.DeliveryAssignment{
			ID:         s.ids.NewID(),
			OrderID:    orderID,
			PartnerID:  riderID,
			Status:     domain.AssignmentStatusAssigned,
			AssignedAt: now,
		}
		if err := repo.CreateAssignment(ctx, a); err != nil {
			return err
		}

		ok, err := repo.UpdateOrderStatus(ctx, orderID, domain.DispatchEligibleStatus, domain.OrderStatusOutForDelivery, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotEligible)
		}

		ok, err = repo.SetRiderAvailability(ctx, riderID, false, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("rider %s: %w", riderID, domain.ErrRiderUnavailable)
		}

		assignment = &a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order assigned", "order_id", orderID, "rider_id", riderID, "assignment_id", assignment.ID)
	return assignment, nil
}

func (s *DispatchService) CompleteDelivery(ctx context.Context, assignmentID, riderID string) (*domain.DeliveryAssignment, error) {
	if err := required("assignment_id", assignmentID, "rider_id", riderID); err != nil {
		return nil, err
	}

	var assignment *domain.DeliveryAssignment
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		a, err := repo.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.PartnerID != riderID {
			return fmt.Errorf("assignment %s: %w", assignmentID, domain.ErrUnauthorized)
		}
		if a.Status != domain.AssignmentStatusAssigned {
			return fmt.Errorf("assignment %s is %s: %w", assignmentID, a.Status, domain.ErrDeliveryNotActive)
		}

		now := s.clock.Now()
		ok, err := repo.MarkAssignmentDelivered(ctx, assignmentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("assignment %s: %w", assignmentID, domain.ErrDeliveryNotActive)
		}

		ok, err = repo.UpdateOrderStatus(ctx, a.OrderID, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s: %w", a.OrderID, domain.ErrInvalidTransition)
		}

		ok, err = repo.SetRiderAvailability(ctx, riderID, true, now)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("rider was already available on completion", "rider_id", riderID, "assignment_id", assignmentID)
		}

		a.Status = domain.AssignmentStatusDelivered
		a.DeliveredAt = &now
		assignment = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("delivery completed", "order_id", assignment.OrderID, "rider_id", riderID, "assignment_id", assignmentID)
	return assignment, nil
}

// RegisterRider creates an off-duty, idle rider for an account.
func (s *DispatchService) RegisterRider(ctx context.Context, accountID, name string) (*domain.DeliveryPartner, error) {
	if err := required("account_id", accountID, "name", name); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	r := domain.DeliveryPartner{
		ID:          s.ids.NewID(),
		AccountID:   accountID,
		Name:        name,
		IsActive:    false,
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRider(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetRiderActive toggles the on-duty flag. Availability is left to the
// assignment and completion transactions.
func (s *DispatchService) SetRiderActive(ctx context.Context, riderID string, active bool) (*domain.DeliveryPartner, error) {
	if riderID == "" {
		return nil, domain.NewValidationError("rider_id", "is required")
	}

	var rider *domain.DeliveryPartner
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		if err := repo.SetRiderActive(ctx, riderID, active, s.clock.Now()); err != nil {
			return err
		}
		var err error
		rider, err = repo.GetRider(ctx, riderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("rider duty changed", "rider_id", riderID, "active", active)
	return rider, nil
}

func (s *DispatchService) AvailableOrders(ctx context.Context) ([]domain.Order, error) {
	return s.store.ListUnassignedOrders(ctx, domain.DispatchEligibleStatus)
}

func (s *DispatchService) ActiveAssignment(ctx context.Context, riderID string) (*domain.DeliveryAssignment, error) {
	if riderID == "" {
		return nil, domain.NewValidationError("rider_id", "is required")
	}
	return s.store.GetActiveAssignmentByRider(ctx, riderID)
}
