package transport

import (
	"context"
	"math/rand"
	"time"

	"github.com/olumi/olumi-go/pkg/schema"
)

// RetryConfig tunes the retry engine.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the exponential backoff base (base × 2ⁿ).
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Jitter is the maximum random addition to each backoff delay.
	Jitter time.Duration
	// RateLimitFallback is used for RATE_LIMITED errors when the server
	// sent no retry_after hint.
	RateLimitFallback time.Duration
	// IsRetryable overrides the default retryability classification.
	IsRetryable func(*schema.CanonicalError) bool
}

// DefaultRetryConfig returns the standard retry policy: 3 attempts,
// exponential backoff with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		Jitter:            250 * time.Millisecond,
		RateLimitFallback: 5 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.RateLimitFallback <= 0 {
		c.RateLimitFallback = d.RateLimitFallback
	}
	return c
}

// WithRetry re-invokes op until it succeeds, the error is non-retryable,
// or attempts are exhausted. No delay occurs after the final attempt; the
// last error observed is returned.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.IsRetryable
	if retryable == nil {
		retryable = func(e *schema.CanonicalError) bool { return e.IsRetryable() }
	}

	var zero T
	var lastErr *schema.CanonicalError
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}

		lastErr = AsCanonical(err)
		if !retryable(lastErr) || attempt == cfg.MaxAttempts-1 {
			return zero, lastErr
		}

		if waitErr := waitBackoff(ctx, backoffDelay(cfg, attempt, lastErr)); waitErr != nil {
			return zero, MapTransportError(waitErr)
		}
	}
	return zero, lastErr
}

// backoffDelay computes the delay before the next attempt. RATE_LIMITED
// uses the server-provided retry_after when present — the server has
// authoritative knowledge of when capacity frees up, so it takes priority
// over exponential backoff.
func backoffDelay(cfg RetryConfig, attempt int, err *schema.CanonicalError) time.Duration {
	if err.Code == schema.ErrCodeRateLimited {
		if err.RetryAfter > 0 {
			return time.Duration(err.RetryAfter) * time.Second
		}
		return cfg.RateLimitFallback
	}

	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(cfg.Jitter)))
	}
	return delay
}

// waitBackoff sleeps for the delay or returns early if the context is
// cancelled during the wait.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
