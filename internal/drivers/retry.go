// internal/drivers/retry.go
package drivers

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines how to retry failed operations
type RetryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	retryable    func(error) bool
	logger       *zap.Logger
}

// RetryOption configures retry behavior
type RetryOption func(*RetryPolicy)

// WithMaxAttempts sets maximum retry attempts
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryPolicy) {
		p.maxAttempts = n
	}
}

// WithInitialDelay sets the initial retry delay
func WithInitialDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.initialDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.maxDelay = d
	}
}

// WithJitter toggles randomized delays
func WithJitter(enabled bool) RetryOption {
	return func(p *RetryPolicy) {
		p.jitter = enabled
	}
}

// WithRetryable overrides which errors are worth another attempt
func WithRetryable(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) {
		p.retryable = fn
	}
}

// WithLogger adds logging to retry attempts
func WithLogger(logger *zap.Logger) RetryOption {
	return func(p *RetryPolicy) {
		p.logger = logger
	}
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		jitter:       true,
		retryable:    IsRetryable,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// IsRetryable reports whether err may succeed on another attempt. Locator
// and not-found errors are permanent.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case ErrInvalidLocator.Has(err), ErrNotFound.Has(err), ErrUnsupportedScheme.Has(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Execute runs a function with retry logic
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := fn(); err == nil {
			if attempt > 0 {
				p.logger.Debug("operation succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("maxAttempts", p.maxAttempts))
			}
			return nil
		} else {
			lastErr = err
		}

		if !p.retryable(lastErr) || attempt == p.maxAttempts-1 {
			break
		}

		delay := p.calculateDelay(attempt)

		p.logger.Debug("operation failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", p.maxAttempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay computes the delay for the given attempt
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))

	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	// between 0.5x and 1.5x
	if p.jitter {
		delay = delay * (0.5 + rand.Float64())
	}

	return time.Duration(delay)
}

// RetryDriver wraps a driver with retry logic
type RetryDriver struct {
	driver Driver
	policy *RetryPolicy
}

// NewRetryDriver creates a driver with retry capability
func NewRetryDriver(driver Driver, policy *RetryPolicy) *RetryDriver {
	return &RetryDriver{
		driver: driver,
		policy: policy,
	}
}

// Name returns the wrapped driver's name
func (r *RetryDriver) Name() string {
	return r.driver.Name()
}

// Unwrap returns the wrapped driver
func (r *RetryDriver) Unwrap() Driver {
	return r.driver
}

func (r *RetryDriver) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	var result io.ReadCloser
	err := r.policy.Execute(ctx, func() error {
		var err error
		result, err = r.driver.Get(ctx, locator)
		return err
	})
	return result, err
}

// Put is retried only when the body can be rewound between attempts.
func (r *RetryDriver) Put(ctx context.Context, locator string, data io.Reader) error {
	seeker, ok := data.(io.Seeker)
	if !ok {
		return r.driver.Put(ctx, locator, data)
	}

	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return r.driver.Put(ctx, locator, data)
	}

	first := true
	return r.policy.Execute(ctx, func() error {
		if !first {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return err
			}
		}
		first = false
		return r.driver.Put(ctx, locator, data)
	})
}

func (r *RetryDriver) Exists(ctx context.Context, locator string) (bool, error) {
	var result bool
	err := r.policy.Execute(ctx, func() error {
		var err error
		result, err = r.driver.Exists(ctx, locator)
		return err
	})
	return result, err
}

func (r *RetryDriver) Delete(ctx context.Context, locator string) error {
	return r.policy.Execute(ctx, func() error {
		return r.driver.Delete(ctx, locator)
	})
}

func (r *RetryDriver) SignedURL(ctx context.Context, locator string) (string, error) {
	var result string
	err := r.policy.Execute(ctx, func() error {
		var err error
		result, err = r.driver.SignedURL(ctx, locator)
		return err
	})
	return result, err
}
