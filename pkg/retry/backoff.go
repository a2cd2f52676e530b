// Package retry provides exponential backoff retry logic with jitter
// for transient network failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the retry schedule
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

// DefaultBackoffConfig returns the schedule used for API calls
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      3,
	}
}

// ExponentialBackoff returns the delay for a given attempt (1-based)
func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))
		if interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}

		duration := time.Duration(interval)
		if config.Jitter && duration > 0 {
			jitter := time.Duration(rand.Int63n(int64(duration / 2)))
			duration = duration/2 + jitter
		}
		return duration
	}
}

// RetryableFunc is the operation under retry
type RetryableFunc func() error

// WithRetry runs fn, retrying with backoff while retryable(err) holds and
// attempts remain. A nil retryable treats every error as retryable.
// Context cancellation stops retrying immediately.
func WithRetry(ctx context.Context, fn RetryableFunc, retryable func(error) bool, config BackoffConfig) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
