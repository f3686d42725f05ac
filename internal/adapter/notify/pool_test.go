package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingSender struct {
	mu     sync.Mutex
	offers []domain.RiderOffer
	err    error
	block  chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, offer domain.RiderOffer) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, offer)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestPool_DeliversOffers(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, Config{Workers: 2, QueueSize: 10}, fixedClock{testNow}, discardLogger())

	pool.NotifyRiderOffer(context.Background(), "r1", "o1")
	pool.NotifyRiderOffer(context.Background(), "r2", "o1")
	pool.Close()

	require.Equal(t, 2, sender.count())
	for _, offer := range sender.offers {
		assert.Equal(t, "o1", offer.OrderID)
		assert.Equal(t, testNow, offer.OfferedAt)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Zero(t, stats.Dropped)
}

func TestPool_DropsWhenFullWithoutBlocking(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	pool := NewPool(sender, Config{Workers: 1, QueueSize: 1}, fixedClock{testNow}, discardLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pool.NotifyRiderOffer(context.Background(), "r1", "o1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyRiderOffer blocked on a full queue")
	}

	close(sender.block)
	pool.Close()

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Queued+stats.Dropped)
	assert.Positive(t, stats.Dropped)
	assert.Equal(t, int(stats.Queued), sender.count())
}

func TestPool_SendFailureIsCountedNotReturned(t *testing.T) {
	sender := &recordingSender{err: errors.New("rider offline")}
	pool := NewPool(sender, Config{Workers: 1, QueueSize: 4}, fixedClock{testNow}, discardLogger())

	pool.NotifyRiderOffer(context.Background(), "r1", "o1")
	pool.Close()

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Sent)
}

func TestPool_NotifyAfterCloseIsDropped(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, Config{Workers: 1}, fixedClock{testNow}, discardLogger())
	pool.Close()
	pool.Close()

	pool.NotifyRiderOffer(context.Background(), "r1", "o1")

	assert.Equal(t, int64(1), pool.Stats().Dropped)
	assert.Zero(t, sender.count())
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &recordingSender{}
	failing := SenderFunc(func(ctx context.Context, offer domain.RiderOffer) error {
		return errors.New("publish failed")
	})

	err := Fanout{ok, failing}.Send(context.Background(), domain.RiderOffer{RiderID: "r1", OrderID: "o1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish failed")
	assert.Equal(t, 1, ok.count())
}
