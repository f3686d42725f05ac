// Package notify delivers rider offers asynchronously. Callers never block on it
// and never see delivery failures; a full queue drops the offer and logs it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

type Sender interface {
	Send(ctx context.Context, offer domain.RiderOffer) error
}

type SenderFunc func(ctx context.Context, offer domain.RiderOffer) error

func (f SenderFunc) Send(ctx context.Context, offer domain.RiderOffer) error {
	return f(ctx, offer)
}

// Fanout sends every offer to all senders and joins their errors.
type Fanout []Sender

func (f Fanout) Send(ctx context.Context, offer domain.RiderOffer) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, offer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  float64
	SendTimeout time.Duration
}

type Stats struct {
	Queued  int64
	Sent    int64
	Failed  int64
	Dropped int64
}

type Pool struct {
	sender  Sender
	queue   chan domain.RiderOffer
	limiter *rate.Limiter
	clock   port.Clock
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued  atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

var _ port.Notifier = (*Pool)(nil)

func NewPool(sender Sender, cfg Config, clock port.Clock, logger *slog.Logger) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}

	p := &Pool{
		sender:  sender,
		queue:   make(chan domain.RiderOffer, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, burst),
		clock:   clock,
		logger:  logger,
		timeout: cfg.SendTimeout,
	}

	workers := max(1, cfg.Workers)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	return p
}

func (p *Pool) NotifyRiderOffer(ctx context.Context, riderID, orderID string) {
	offer := domain.RiderOffer{RiderID: riderID, OrderID: orderID, OfferedAt: p.clock.Now()}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		p.logger.Warn("offer dropped: notifier closed", "rider_id", riderID, "order_id", orderID)
		return
	}

	select {
	case p.queue <- offer:
		p.queued.Add(1)
	default:
		p.dropped.Add(1)
		p.logger.Warn("offer dropped: queue full", "rider_id", riderID, "order_id", orderID)
	}
}

func (p *Pool) workerLoop(id int) {
	for offer := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)

		if err := p.limiter.Wait(ctx); err != nil {
			p.failed.Add(1)
			p.logger.Warn("offer not sent", "worker", id, "rider_id", offer.RiderID, "order_id", offer.OrderID, "error", err)
			cancel()
			continue
		}

		if err := p.sender.Send(ctx, offer); err != nil {
			p.failed.Add(1)
			p.logger.Warn("offer not delivered", "worker", id, "rider_id", offer.RiderID, "order_id", offer.OrderID, "error", err)
		} else {
			p.sent.Add(1)
			p.logger.Debug("offer delivered", "worker", id, "rider_id", offer.RiderID, "order_id", offer.OrderID)
		}

		cancel()
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Queued:  p.queued.Load(),
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Close stops accepting offers, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
