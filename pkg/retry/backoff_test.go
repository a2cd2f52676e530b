package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
		MaxRetries:      maxRetries,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil, fastConfig(5))

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	wantErr := errors.New("still failing")
	err := WithRetry(context.Background(), func() error {
		attempts++
		return wantErr
	}, nil, fastConfig(2))

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected final error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected initial try plus 2 retries, got %d attempts", attempts)
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) }, fastConfig(5))

	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	}, nil, fastConfig(5))

	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries after cancellation, got %d attempts", attempts)
	}
}

func TestExponentialBackoff_CapsAtMaxInterval(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     4 * time.Second,
		Multiplier:      2.0,
	})

	if got := backoff(1); got != time.Second {
		t.Fatalf("attempt 1: expected 1s, got %v", got)
	}
	if got := backoff(10); got != 4*time.Second {
		t.Fatalf("attempt 10: expected cap of 4s, got %v", got)
	}
}
