package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	c := Config{MaxAttempts: 2}
	c.ApplyDefaults()
	assert.Equal(t, 2, c.MaxAttempts)
	assert.Equal(t, 5*time.Minute, c.VisibilityTimeout)
	assert.Equal(t, 5*time.Second, c.Wait)
}

func TestMemoryQueue_AckFlow(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{Wait: 50 * time.Millisecond})
	defer func() { _ = q.Close() }()

	id, err := q.Enqueue(ctx, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, Stats{Pending: 1}, q.Stats())

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, int64(7), d.SampleID)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, Stats{InFlight: 1}, q.Stats())

	require.NoError(t, q.Ack(ctx, d))
	assert.Equal(t, Stats{}, q.Stats())

	err = q.Ack(ctx, d)
	assert.True(t, ErrUnknownDelivery.Has(err))
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(Config{Wait: 20 * time.Millisecond})
	defer func() { _ = q.Close() }()

	d, err := q.Receive(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestMemoryQueue_NackAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxAttempts: 2, Wait: 50 * time.Millisecond})
	defer func() { _ = q.Close() }()

	_, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d))

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Attempt)
	require.NoError(t, q.Nack(ctx, d))

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, int64(1), dead[0].SampleID)
	assert.Equal(t, Stats{DeadLetters: 1}, q.Stats())
}

func TestMemoryQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{VisibilityTimeout: 20 * time.Millisecond, Wait: time.Second})
	defer func() { _ = q.Close() }()

	_, err := q.Enqueue(ctx, 3)
	require.NoError(t, err)

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)

	err = q.Ack(ctx, first)
	assert.NoError(t, err, "the id is in flight again")
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(Config{Wait: 5 * time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.True(t, ErrClosed.Has(err))
	case <-time.After(time.Second):
		t.Fatal("receiver not woken by Close")
	}

	_, err := q.Enqueue(context.Background(), 1)
	assert.True(t, ErrClosed.Has(err))
	assert.NoError(t, q.Close())
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := NewMemoryQueue(Config{Wait: 5 * time.Second})
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_ConcurrentConsumers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{Wait: 50 * time.Millisecond})
	defer func() { _ = q.Close() }()

	const jobs = 100
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, int64(i))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := q.Receive(ctx)
				if err != nil || d == nil {
					return
				}
				mu.Lock()
				seen[d.SampleID]++
				mu.Unlock()
				_ = q.Ack(ctx, d)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "sample %d", id)
	}
}
