// internal/drivers/retry_test.go
package drivers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		failingFunc := func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient error")
			}
			return nil
		}

		policy := NewRetryPolicy(
			WithMaxAttempts(5),
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(100*time.Millisecond),
			WithJitter(true),
		)

		err := policy.Execute(context.Background(), failingFunc)

		require.NoError(t, err)
		assert.Equal(t, 3, attempts, "Should succeed on third attempt")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		slowFunc := func() error {
			time.Sleep(100 * time.Millisecond)
			return errors.New("still failing")
		}

		policy := NewRetryPolicy(WithMaxAttempts(10))

		err := policy.Execute(ctx, slowFunc)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		attempts := 0
		policy := NewRetryPolicy(WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

		err := policy.Execute(context.Background(), func() error {
			attempts++
			return ErrNotFound.New("gone")
		})

		assert.True(t, ErrNotFound.Has(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("delay is capped", func(t *testing.T) {
		policy := NewRetryPolicy(
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(50*time.Millisecond),
			WithJitter(false),
		)
		assert.Equal(t, 10*time.Millisecond, policy.calculateDelay(0))
		assert.Equal(t, 20*time.Millisecond, policy.calculateDelay(1))
		assert.Equal(t, 50*time.Millisecond, policy.calculateDelay(5))
	})
}

type flakyPutDriver struct {
	*MemoryDriver
	failures int
}

func (f *flakyPutDriver) Put(ctx context.Context, locator string, data io.Reader) error {
	if f.failures > 0 {
		f.failures--
		// consume part of the body like a dropped upload would
		_, _ = io.CopyN(io.Discard, data, 3)
		return errors.New("connection reset")
	}
	return f.MemoryDriver.Put(ctx, locator, data)
}

func TestRetryDriver_Put(t *testing.T) {
	ctx := context.Background()
	policy := NewRetryPolicy(WithInitialDelay(time.Millisecond), WithJitter(false))

	t.Run("rewinds seekable bodies", func(t *testing.T) {
		inner := &flakyPutDriver{MemoryDriver: NewMemoryDriver(), failures: 2}
		d := NewRetryDriver(inner, policy)

		require.NoError(t, d.Put(ctx, "temp://a", bytes.NewReader([]byte("payload"))))

		rc, err := d.Get(ctx, "temp://a")
		require.NoError(t, err)
		got, _ := io.ReadAll(rc)
		assert.Equal(t, "payload", string(got))
	})

	t.Run("does not retry streams", func(t *testing.T) {
		inner := &flakyPutDriver{MemoryDriver: NewMemoryDriver(), failures: 1}
		d := NewRetryDriver(inner, policy)

		err := d.Put(ctx, "temp://b", io.MultiReader(bytes.NewReader([]byte("payload"))))
		assert.Error(t, err)
	})
}
