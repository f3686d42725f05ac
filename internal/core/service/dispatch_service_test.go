package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

func TestDispatch_OffersEligibleRiders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	r2 := env.rider(t, "r2")
	off, err := env.dispatch.RegisterRider(ctx, "acct-off", "off duty")
	require.NoError(t, err)
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	res, err := env.dispatch.Dispatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.OffersSent)
	assert.ElementsMatch(t, []string{r1, r2}, res.RiderIDs)
	assert.NotContains(t, res.RiderIDs, off.ID)
	assert.Len(t, env.notifier.Offers(), 2)
}

func TestDispatch_Fanout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		env.rider(t, fmt.Sprintf("r%d", i))
	}
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	res, err := env.dispatch.Dispatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, res.OffersSent)
}

func TestDispatch_FanoutCapped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		env.rider(t, fmt.Sprintf("r%d", i))
	}
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatch := NewDispatchService(env.store, env.notifier, env.clock, env.ids, logger, DispatchConfig{Fanout: 25})
	t.Cleanup(dispatch.Close)

	res, err := dispatch.Dispatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultOfferFanout, res.OffersSent)
	assert.Len(t, res.RiderIDs, DefaultOfferFanout)
}

func TestDispatch_NotEligible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rider(t, "r1")

	for _, status := range []domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusPaid, domain.OrderStatusPreparing} {
		id := env.orderIn(t, "store-1", status)
		_, err := env.dispatch.Dispatch(ctx, id)
		assert.ErrorIs(t, err, domain.ErrOrderNotEligible, "status %s", status)
	}
	assert.Empty(t, env.notifier.Offers())

	_, err := env.dispatch.Dispatch(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDispatch_NoRiders(t *testing.T) {
	env := newTestEnv(t)
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	_, err := env.dispatch.Dispatch(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNoRidersAvailable)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestDispatch_IdempotentAfterAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	env.rider(t, "r2")
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	a, err := env.dispatch.AcceptAssignment(ctx, id, r1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := env.dispatch.Dispatch(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, res.Assignment)
		assert.Equal(t, a.ID, res.Assignment.ID)
		assert.Zero(t, res.OffersSent)
	}
	assert.Empty(t, env.notifier.Offers())
}

func TestAcceptAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	a, err := env.dispatch.AcceptAssignment(ctx, id, r1)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusAssigned, a.Status)
	assert.Equal(t, r1, a.PartnerID)
	assert.Nil(t, a.DeliveredAt)

	assert.Equal(t, domain.OrderStatusOutForDelivery, env.orderStatus(t, id))
	assert.False(t, env.riderState(t, r1).IsAvailable)

	active, err := env.dispatch.ActiveAssignment(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestAcceptAssignment_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	r2 := env.rider(t, "r2")
	off, err := env.dispatch.RegisterRider(ctx, "acct-off", "off")
	require.NoError(t, err)

	ready := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)
	preparing := env.orderIn(t, "store-1", domain.OrderStatusPreparing)

	_, err = env.dispatch.AcceptAssignment(ctx, ready, off.ID)
	assert.ErrorIs(t, err, domain.ErrRiderUnavailable)

	_, err = env.dispatch.AcceptAssignment(ctx, ready, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.dispatch.AcceptAssignment(ctx, preparing, r1)
	assert.ErrorIs(t, err, domain.ErrOrderNotEligible)
	// The failed accept rolled back its insert.
	_, err = env.store.GetAssignmentByOrder(ctx, preparing)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, env.riderState(t, r1).IsAvailable)

	_, err = env.dispatch.AcceptAssignment(ctx, ready, r1)
	require.NoError(t, err)

	_, err = env.dispatch.AcceptAssignment(ctx, ready, r2)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyAssigned)

	// A busy rider cannot take a second order.
	second := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)
	_, err = env.dispatch.AcceptAssignment(ctx, second, r1)
	assert.ErrorIs(t, err, domain.ErrRiderUnavailable)
}

func TestAcceptAssignment_ConcurrentExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	const riders = 10
	ids := make([]string, riders)
	for i := range ids {
		ids[i] = env.rider(t, fmt.Sprintf("r%d", i))
	}

	var successCount, conflictCount atomic.Int32
	var winner atomic.Value
	var wg sync.WaitGroup
	for _, riderID := range ids {
		wg.Add(1)
		go func(riderID string) {
			defer wg.Done()
			_, err := env.dispatch.AcceptAssignment(ctx, id, riderID)
			switch {
			case err == nil:
				successCount.Add(1)
				winner.Store(riderID)
			case errors.Is(err, domain.ErrOrderAlreadyAssigned):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(riderID)
	}
	wg.Wait()

	require.EqualValues(t, 1, successCount.Load())
	assert.EqualValues(t, riders-1, conflictCount.Load())

	won := winner.Load().(string)
	for _, riderID := range ids {
		assert.Equal(t, riderID != won, env.riderState(t, riderID).IsAvailable, "rider %s", riderID)
	}
	assert.Equal(t, domain.OrderStatusOutForDelivery, env.orderStatus(t, id))
}

// staleAssignmentStore hides committed assignments from reads inside a
// transaction, as a concurrent accept that has not yet committed would see them.
type staleAssignmentStore struct {
	port.Store
}

func (s staleAssignmentStore) WithinTx(ctx context.Context, fn func(repo port.Repository) error) error {
	return s.Store.WithinTx(ctx, func(repo port.Repository) error {
		return fn(staleAssignmentRepo{repo})
	})
}

type staleAssignmentRepo struct {
	port.Repository
}

func (r staleAssignmentRepo) GetAssignmentByOrder(ctx context.Context, orderID string) (*domain.DeliveryAssignment, error) {
	return nil, fmt.Errorf("assignment for order %s: %w", orderID, domain.ErrNotFound)
}

func TestAcceptAssignment_UniqueOrderConstraintDecides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	r2 := env.rider(t, "r2")
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatch := NewDispatchService(staleAssignmentStore{env.store}, env.notifier, env.clock, env.ids, logger, DispatchConfig{})
	t.Cleanup(dispatch.Close)

	won, err := dispatch.AcceptAssignment(ctx, id, r1)
	require.NoError(t, err)

	_, err = dispatch.AcceptAssignment(ctx, id, r2)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyAssigned)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	assert.True(t, env.riderState(t, r2).IsAvailable)
	assert.False(t, env.riderState(t, r1).IsAvailable)

	stored, err := env.store.GetAssignmentByOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, won.ID, stored.ID)
	assert.Equal(t, r1, stored.PartnerID)

	_, err = env.store.GetActiveAssignmentByRider(ctx, r2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	r2 := env.rider(t, "r2")
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	a, err := env.dispatch.AcceptAssignment(ctx, id, r1)
	require.NoError(t, err)

	_, err = env.dispatch.CompleteDelivery(ctx, a.ID, r2)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	env.clock.Advance(20 * time.Minute)
	done, err := env.dispatch.CompleteDelivery(ctx, a.ID, r1)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusDelivered, done.Status)
	require.NotNil(t, done.DeliveredAt)
	assert.True(t, done.DeliveredAt.After(done.AssignedAt))

	stored, err := env.store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)

	assert.Equal(t, domain.OrderStatusDelivered, env.orderStatus(t, id))
	assert.True(t, env.riderState(t, r1).IsAvailable)

	_, err = env.dispatch.CompleteDelivery(ctx, a.ID, r1)
	assert.ErrorIs(t, err, domain.ErrDeliveryNotActive)

	_, err = env.dispatch.ActiveAssignment(ctx, r1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetRiderActive_LeavesAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	id := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)
	_, err := env.dispatch.AcceptAssignment(ctx, id, r1)
	require.NoError(t, err)

	r, err := env.dispatch.SetRiderActive(ctx, r1, false)
	require.NoError(t, err)
	assert.False(t, r.IsActive)
	assert.False(t, r.IsAvailable)

	_, err = env.dispatch.SetRiderActive(ctx, "ghost", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAvailableOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r1 := env.rider(t, "r1")
	taken := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)
	open := env.orderIn(t, "store-2", domain.OrderStatusReadyForPickup)
	env.orderIn(t, "store-1", domain.OrderStatusPreparing)

	_, err := env.dispatch.AcceptAssignment(ctx, taken, r1)
	require.NoError(t, err)

	orders, err := env.dispatch.AvailableOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, open, orders[0].ID)
}

func TestEnqueue_QueueAndClose(t *testing.T) {
	env := newTestEnv(t)

	assert.True(t, env.dispatch.Enqueue("o-1"))
	assert.Equal(t, "o-1", <-env.dispatch.Queue())

	env.dispatch.Close()
	env.dispatch.Close()
	assert.False(t, env.dispatch.Enqueue("o-2"))

	_, ok := <-env.dispatch.Queue()
	assert.False(t, ok)
}

func TestEnqueue_FullQueueDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)

	accepted := 0
	for i := 0; i < 20; i++ {
		if env.dispatch.Enqueue(fmt.Sprintf("o-%d", i)) {
			accepted++
		}
	}
	assert.Equal(t, 16, accepted)
}

func TestHandleQueued_SkipsNotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rider(t, "r1")
	preparing := env.orderIn(t, "store-1", domain.OrderStatusPreparing)
	ready := env.orderIn(t, "store-1", domain.OrderStatusReadyForPickup)

	env.dispatch.HandleQueued(ctx, preparing)
	assert.Empty(t, env.notifier.Offers())

	env.dispatch.HandleQueued(ctx, ready)
	assert.Len(t, env.notifier.Offers(), 1)
}

// Two riders race for one ready order; the loser sees a conflict and stays free,
// the winner delivers and becomes available again.
func TestScenario_RaceThenDeliver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "50")
	env.stock(t, "store-1", p, 2)
	r1 := env.rider(t, "r1")
	r2 := env.rider(t, "r2")

	_, err := env.carts.AddItem(ctx, "user-1", p, "store-1", 2)
	require.NoError(t, err)
	order, err := env.checkout.Checkout(ctx, CheckoutRequest{UserID: "user-1", DeliveryAddressID: "addr-1"})
	require.NoError(t, err)

	_, err = env.orders.ConfirmPayment(ctx, order.ID)
	require.NoError(t, err)
	_, err = env.orders.AcceptOrder(ctx, "store-1", order.ID)
	require.NoError(t, err)
	_, err = env.orders.MarkReady(ctx, "store-1", order.ID)
	require.NoError(t, err)

	res, err := env.dispatch.Dispatch(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.OffersSent)

	results := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, riderID := range []string{r1, r2} {
		wg.Add(1)
		go func(riderID string) {
			defer wg.Done()
			_, err := env.dispatch.AcceptAssignment(ctx, order.ID, riderID)
			mu.Lock()
			results[riderID] = err
			mu.Unlock()
		}(riderID)
	}
	wg.Wait()

	var winner, loser string
	switch {
	case results[r1] == nil:
		winner, loser = r1, r2
	case results[r2] == nil:
		winner, loser = r2, r1
	default:
		t.Fatalf("no rider won: %v", results)
	}
	assert.ErrorIs(t, results[loser], domain.ErrOrderAlreadyAssigned)
	assert.False(t, env.riderState(t, winner).IsAvailable)
	assert.True(t, env.riderState(t, loser).IsAvailable)

	active, err := env.dispatch.ActiveAssignment(ctx, winner)
	require.NoError(t, err)

	done, err := env.dispatch.CompleteDelivery(ctx, active.ID, winner)
	require.NoError(t, err)
	assert.NotNil(t, done.DeliveredAt)
	assert.Equal(t, domain.OrderStatusDelivered, env.orderStatus(t, order.ID))
	assert.True(t, env.riderState(t, winner).IsAvailable)
}
