package base

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// RetryPolicy retries an operation with exponential backoff between
// InitialDelay and MaxDelay
type RetryPolicy struct {
	// MaxRetries counts attempts after the first one
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy is used until a connector is initialized
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true}
}

// NewRetryPolicy takes the reliability section of a connector; zero
// durations and multipliers keep the defaults
func NewRetryPolicy(cfg config.ReliabilityConfig) *RetryPolicy {
	rp := DefaultRetryPolicy()
	rp.MaxRetries = cfg.RetryAttempts
	if cfg.RetryDelay > 0 {
		rp.InitialDelay = cfg.RetryDelay
	}
	if cfg.MaxRetryDelay > 0 {
		rp.MaxDelay = cfg.MaxRetryDelay
	}
	if cfg.RetryMultiplier > 0 {
		rp.Multiplier = cfg.RetryMultiplier
	}
	return rp
}

func (rp *RetryPolicy) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: rp.InitialDelay, Max: rp.MaxDelay, Factor: rp.Multiplier, Jitter: rp.Jitter}
}

// GetDelay returns the wait before retry attempt, counting from 0
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.newBackoff().ForAttempt(float64(attempt))
}

// Execute calls fn until it succeeds, retryable rejects the error or the
// retries run out. onRetry is told about every retry before its wait.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool, onRetry func(attempt int, delay time.Duration, err error)) error {
	b := rp.newBackoff()
	err := fn(ctx)
	for retry := 1; err != nil && retry <= rp.MaxRetries; retry++ {
		if retryable != nil && !retryable(err) {
			return err
		}
		delay := b.Duration()
		if onRetry != nil {
			onRetry(retry, delay, err)
		}
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
		err = fn(ctx)
	}
	if err != nil && rp.MaxRetries > 0 && (retryable == nil || retryable(err)) {
		return errors.Wrapf(err, errors.ErrorTypeInternal, "gave up after %d retries", rp.MaxRetries)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
	case <-t.C:
		return nil
	}
}
