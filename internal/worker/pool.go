// internal/worker/pool.go
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/samplehub/internal/metrics"
	"github.com/FairForge/samplehub/internal/queue"
)

// Completer runs the derivation for one sample.
type Completer interface {
	Complete(ctx context.Context, sampleID int64) error
}

// Pool consumes derivation jobs with a fixed number of concurrent loops.
// A job is acked once its outcome is recorded and nacked when recording
// fails, so the queue retries it.
type Pool struct {
	queue        queue.Queue
	completer    Completer
	concurrency  int
	reclaimAfter time.Duration
	retryDelay   time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithConcurrency sets the number of consumer loops.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithReclaimAfter sets how long a job may stay unacked in another
// consumer before it is taken over. Zero disables reclaiming.
func WithReclaimAfter(d time.Duration) Option {
	return func(p *Pool) { p.reclaimAfter = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool
func NewPool(q queue.Queue, c Completer, opts ...Option) *Pool {
	p := &Pool{
		queue:       q,
		completer:   c,
		concurrency: 1,
		retryDelay:  time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes jobs until ctx is cancelled or the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("derivation workers starting", zap.Int("concurrency", p.concurrency))

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		log := p.logger.With(zap.Int("worker", i))
		eg.Go(func() error { return p.consume(ctx, log) })
	}
	if r, ok := p.queue.(queue.Reclaimer); ok && p.reclaimAfter > 0 {
		eg.Go(func() error { return p.reclaim(ctx, r) })
	}

	err := eg.Wait()
	p.logger.Info("derivation workers stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, log *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		d, err := p.queue.Receive(ctx)
		switch {
		case err == nil && d == nil:
			continue
		case err == nil:
			p.handle(ctx, log, d)
		case ctx.Err() != nil, queue.ErrClosed.Has(err):
			return nil
		default:
			log.Error("receive derivation job", zap.Error(err))
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
		}
	}
}

// handle completes one job. It runs detached from ctx so a shutdown lets
// the in-flight job record its outcome.
func (p *Pool) handle(ctx context.Context, log *zap.Logger, d *queue.Delivery) {
	ctx = context.WithoutCancel(ctx)
	log = log.With(
		zap.String("job", d.ID),
		zap.Int64("sample_id", d.SampleID),
		zap.Int("attempt", d.Attempt))

	if err := p.completer.Complete(ctx, d.SampleID); err != nil {
		log.Warn("derivation job failed", zap.Error(err))
		p.metrics.ObserveDelivery("nack")
		if err := p.queue.Nack(ctx, d); err != nil {
			log.Error("nack derivation job", zap.Error(err))
		}
		return
	}

	p.metrics.ObserveDelivery("ack")
	if err := p.queue.Ack(ctx, d); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("ack derivation job", zap.Error(err))
	}
}

func (p *Pool) reclaim(ctx context.Context, r queue.Reclaimer) error {
	ticker := time.NewTicker(max(p.reclaimAfter/2, time.Millisecond))
	defer ticker.Stop()

	log := p.logger.Named("reclaim")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		deliveries, err := r.Reclaim(ctx, p.reclaimAfter)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("reclaim derivation jobs", zap.Error(err))
			continue
		}
		for _, d := range deliveries {
			p.metrics.ObserveDelivery("reclaimed")
			p.handle(ctx, log, d)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
