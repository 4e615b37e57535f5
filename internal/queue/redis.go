package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream entry fields
const (
	fieldSampleID   = "sample_id"
	fieldAttempt    = "attempt"
	fieldEnqueuedAt = "enqueued_at"
)

// RedisQueue is a Queue on a Redis stream read through a consumer group.
// Entries stay in the group's pending list until acked, so jobs held by a
// crashed worker can be reclaimed by another one. Settled entries are
// deleted from the stream.
type RedisQueue struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string
	config   Config
	logger   *zap.Logger
}

var (
	_ Queue     = (*RedisQueue)(nil)
	_ Reclaimer = (*RedisQueue)(nil)
)

// RedisOption configures a RedisQueue
type RedisOption func(*RedisQueue)

// WithConsumer sets the consumer name within the group. It defaults to
// the hostname and pid.
func WithConsumer(name string) RedisOption {
	return func(q *RedisQueue) { q.consumer = name }
}

// WithConfig overrides the attempt and wait settings.
func WithConfig(c Config) RedisOption {
	return func(q *RedisQueue) { q.config = c }
}

// NewRedisQueue creates the consumer group if needed and returns a queue
// bound to it.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, stream, group string, logger *zap.Logger, opts ...RedisOption) (*RedisQueue, error) {
	q := &RedisQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: defaultConsumer(),
		config:   DefaultConfig(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.config.Wait == 0 {
		q.config.Wait = DefaultConfig().Wait
	}
	if q.config.MaxAttempts <= 0 {
		q.config.MaxAttempts = DefaultConfig().MaxAttempts
	}

	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, Error.New("create group %s on %s: %v", group, stream, err)
	}
	return q, nil
}

// DeadLetterStream is where exhausted jobs are moved.
func (q *RedisQueue) DeadLetterStream() string {
	return q.stream + ".dead"
}

func (q *RedisQueue) add(ctx context.Context, pipe redis.Cmdable, stream string, sampleID int64, attempt int) *redis.StringCmd {
	return pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			fieldSampleID:   sampleID,
			fieldAttempt:    attempt,
			fieldEnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// Enqueue appends a job for sampleID and returns its stream entry id
func (q *RedisQueue) Enqueue(ctx context.Context, sampleID int64) (string, error) {
	id, err := q.add(ctx, q.client, q.stream, sampleID, 1).Result()
	if err != nil {
		return "", Error.New("enqueue sample %d: %v", sampleID, err)
	}
	return id, nil
}

// Receive reads one new entry for this consumer. A negative Wait polls
// without blocking.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.config.Wait,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Error.New("read %s: %v", q.stream, err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.delivery(ctx, streams[0].Messages[0])
}

// delivery decodes msg. Malformed entries are acked and skipped.
func (q *RedisQueue) delivery(ctx context.Context, msg redis.XMessage) (*Delivery, error) {
	d, err := parseMessage(msg)
	if err != nil {
		q.logger.Warn("dropping malformed queue entry",
			zap.String("id", msg.ID),
			zap.Error(err))
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			q.settle(ctx, pipe, msg.ID)
			return nil
		})
		if err != nil {
			return nil, Error.New("drop malformed entry %s: %v", msg.ID, err)
		}
		return nil, nil
	}
	return d, nil
}

func parseMessage(msg redis.XMessage) (*Delivery, error) {
	sampleID, err := strconv.ParseInt(fmt.Sprint(msg.Values[fieldSampleID]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("sample_id: %w", err)
	}
	attempt := 1
	if v, ok := msg.Values[fieldAttempt]; ok {
		if attempt, err = strconv.Atoi(fmt.Sprint(v)); err != nil {
			return nil, fmt.Errorf("attempt: %w", err)
		}
	}
	d := &Delivery{ID: msg.ID, SampleID: sampleID, Attempt: attempt}
	if v, ok := msg.Values[fieldEnqueuedAt]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, fmt.Sprint(v)); err == nil {
			d.EnqueuedAt = ts
		}
	}
	return d, nil
}

// settle acks id and deletes it from the stream.
func (q *RedisQueue) settle(ctx context.Context, pipe redis.Pipeliner, id string) *redis.IntCmd {
	acked := pipe.XAck(ctx, q.stream, q.group, id)
	pipe.XDel(ctx, q.stream, id)
	return acked
}

// Ack removes d from the group's pending list and from the stream
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	var acked *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		acked = q.settle(ctx, pipe, d.ID)
		return nil
	})
	if err != nil {
		return Error.New("ack %s: %v", d.ID, err)
	}
	if acked.Val() == 0 {
		return ErrUnknownDelivery.New("%s", d.ID)
	}
	return nil
}

// Nack settles d and appends its next attempt, or moves it to the dead
// letter stream, in one transaction.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	if d.Attempt >= q.config.MaxAttempts {
		return q.deadLetter(ctx, d)
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.settle(ctx, pipe, d.ID)
		q.add(ctx, pipe, q.stream, d.SampleID, d.Attempt+1)
		return nil
	})
	if err != nil {
		return Error.New("nack %s: %v", d.ID, err)
	}
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, d *Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.settle(ctx, pipe, d.ID)
		q.add(ctx, pipe, q.DeadLetterStream(), d.SampleID, d.Attempt)
		return nil
	})
	if err != nil {
		return Error.New("dead-letter %s: %v", d.ID, err)
	}
	q.logger.Warn("derivation job dead-lettered",
		zap.Int64("sample_id", d.SampleID),
		zap.Int("attempts", d.Attempt))
	return nil
}

// Reclaim takes over entries idle in other consumers' pending lists for
// at least minIdle. Every delivery of an entry counts as an attempt, so a
// job that keeps killing its worker is dead-lettered after MaxAttempts.
func (q *RedisQueue) Reclaim(ctx context.Context, minIdle time.Duration) ([]*Delivery, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Error.New("reclaim %s: %v", q.stream, err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	counts, err := q.deliveryCounts(ctx, msgs[0].ID, msgs[len(msgs)-1].ID, len(msgs))
	if err != nil {
		return nil, err
	}

	out := make([]*Delivery, 0, len(msgs))
	for _, msg := range msgs {
		d, err := q.delivery(ctx, msg)
		if err != nil {
			return out, err
		}
		if d == nil {
			continue
		}
		if n := counts[d.ID]; n > 1 {
			d.Attempt += int(n) - 1
		}
		if d.Attempt > q.config.MaxAttempts {
			d.Attempt--
			if err := q.deadLetter(ctx, d); err != nil {
				return out, err
			}
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// deliveryCounts returns how often each of this consumer's pending entries
// in [start, end] has been delivered.
func (q *RedisQueue) deliveryCounts(ctx context.Context, start, end string, count int) (map[string]int64, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   q.stream,
		Group:    q.group,
		Start:    start,
		End:      end,
		Count:    int64(count),
		Consumer: q.consumer,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Error.New("pending %s: %v", q.stream, err)
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// Len returns the number of unsettled entries in the stream.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, Error.New("len %s: %v", q.stream, err)
	}
	return n, nil
}

// Close closes the underlying client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
