package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

var (
	// Error is the class of queue failures.
	Error = errs.Class("queue")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errs.Class("queue closed")
	// ErrUnknownDelivery is returned when acking a delivery that is no
	// longer in flight.
	ErrUnknownDelivery = errs.Class("unknown delivery")
)

// Delivery is one derivation job handed to a consumer.
type Delivery struct {
	ID         string
	SampleID   int64
	Attempt    int
	EnqueuedAt time.Time
}

// Queue carries sample ids from the scheduler to the derivation workers.
// Deliveries are at least once: a delivery that is neither acked nor
// nacked is redelivered.
type Queue interface {
	Enqueue(ctx context.Context, sampleID int64) (string, error)
	// Receive waits for the next delivery. It returns nil, nil when
	// nothing arrived within the queue's wait window.
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack schedules a redelivery, or dead-letters d once it has used
	// every attempt.
	Nack(ctx context.Context, d *Delivery) error
	Close() error
}

// Reclaimer is implemented by queues that can take over deliveries left
// pending by consumers that died.
type Reclaimer interface {
	Reclaim(ctx context.Context, minIdle time.Duration) ([]*Delivery, error)
}

// Config configures a queue
type Config struct {
	MaxAttempts       int
	VisibilityTimeout time.Duration
	// Wait bounds how long Receive blocks for a message.
	Wait time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		VisibilityTimeout: 5 * time.Minute,
		Wait:              5 * time.Second,
	}
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if c.Wait <= 0 {
		c.Wait = defaults.Wait
	}
}

// Stats contains queue statistics
type Stats struct {
	Pending     int64
	InFlight    int64
	DeadLetters int64
}

type inFlight struct {
	delivery *Delivery
	timer    *time.Timer
}

// MemoryQueue is an in-process Queue used when the server embeds its
// workers. Unacked deliveries become visible again after the visibility
// timeout.
type MemoryQueue struct {
	config      Config
	pending     []*Delivery
	inFlight    map[string]*inFlight
	deadLetters []*Delivery
	notify      chan struct{}
	done        chan struct{}
	closed      bool
	mu          sync.Mutex
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(config Config) *MemoryQueue {
	config.ApplyDefaults()
	return &MemoryQueue{
		config:   config,
		inFlight: make(map[string]*inFlight),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue adds a job for sampleID
func (q *MemoryQueue) Enqueue(ctx context.Context, sampleID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d := &Delivery{
		ID:         uuid.New().String(),
		SampleID:   sampleID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed.New("enqueue sample %d", sampleID)
	}
	q.pending = append(q.pending, d)
	q.mu.Unlock()

	q.signal()
	return d.ID, nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Receive takes the oldest visible job
func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	timeout := time.NewTimer(q.config.Wait)
	defer timeout.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed.New("receive")
		}
		if len(q.pending) > 0 {
			d := q.pending[0]
			q.pending = q.pending[1:]
			q.inFlight[d.ID] = &inFlight{
				delivery: d,
				timer:    time.AfterFunc(q.config.VisibilityTimeout, func() { q.expire(d.ID) }),
			}
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			cp := *d
			return &cp, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed.New("receive")
		case <-q.notify:
		case <-timeout.C:
			return nil, nil
		}
	}
}

// expire returns a delivery to the queue if not acknowledged
func (q *MemoryQueue) expire(id string) {
	q.mu.Lock()
	entry, ok := q.inFlight[id]
	if !ok {
		q.mu.Unlock()
		return // Already acknowledged or nacked
	}
	delete(q.inFlight, id)
	q.retryLocked(entry.delivery)
	q.mu.Unlock()

	q.signal()
}

// retryLocked requeues d for its next attempt or dead-letters it.
func (q *MemoryQueue) retryLocked(d *Delivery) {
	if d.Attempt >= q.config.MaxAttempts {
		q.deadLetters = append(q.deadLetters, d)
		return
	}
	d.Attempt++
	q.pending = append(q.pending, d)
}

// Ack removes a delivery from in-flight
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inFlight[d.ID]
	if !ok {
		return ErrUnknownDelivery.New("%s", d.ID)
	}
	entry.timer.Stop()
	delete(q.inFlight, d.ID)
	return nil
}

// Nack returns a delivery to the queue immediately
func (q *MemoryQueue) Nack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	entry, ok := q.inFlight[d.ID]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownDelivery.New("%s", d.ID)
	}
	entry.timer.Stop()
	delete(q.inFlight, d.ID)
	q.retryLocked(entry.delivery)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Stats returns queue statistics
func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:     int64(len(q.pending)),
		InFlight:    int64(len(q.inFlight)),
		DeadLetters: int64(len(q.deadLetters)),
	}
}

// DeadLetters returns the jobs that ran out of attempts.
func (q *MemoryQueue) DeadLetters() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Delivery, len(q.deadLetters))
	for i, d := range q.deadLetters {
		out[i] = *d
	}
	return out
}

// Close stops the queue and wakes blocked receivers. Pending jobs are
// dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, entry := range q.inFlight {
		entry.timer.Stop()
	}
	close(q.done)
	return nil
}
