// Package retry provides a reusable retry mechanism with exponential backoff.
//
// The same backoff arithmetic drives both in-call retries (Do) and the
// scheduler's delay after a failed run (Backoff).
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries, just the initial attempt).
	MaxRetries int

	// InitialBackoff is the initial backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (caps exponential growth).
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// When true, actual backoff is: min(backoff + rand(0, backoff/2), MaxBackoff)
	Jitter bool
}

// DefaultConfig returns the upstream client defaults: 3 retries, 500ms doubling up to 10s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

// Backoff returns the delay before retry number attempt (1-indexed):
// InitialBackoff * BackoffFactor^(attempt-1) plus jitter when enabled, never above MaxBackoff.
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= cfg.BackoffFactor
		if backoff >= float64(cfg.MaxBackoff) {
			backoff = float64(cfg.MaxBackoff)
			break
		}
	}

	d := time.Duration(backoff)
	if cfg.Jitter && d > 1 {
		d += time.Duration(rand.Int64N(int64(d)/2 + 1))
	}
	return min(d, cfg.MaxBackoff)
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt (optional, for logging/metrics).
// attempt is 1-indexed (first retry is attempt 1).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do executes the given function with retry logic.
// It returns the result of the function or the last error if all retries are exhausted.
//
// The function is called at least once. If it returns an error and isRetryable returns true,
// it will be retried up to cfg.MaxRetries additional times.
//
// Example:
//
//	page, err := retry.Do(ctx, retry.DefaultConfig(), entity.IsRetryable, nil, func() (*outbound.Page, error) {
//	    return fetchPage(ctx, n)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	cfg = cfg.withDefaults()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := Backoff(cfg, attempt)
			if onRetry != nil {
				onRetry(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
