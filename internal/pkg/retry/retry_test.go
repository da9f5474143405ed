package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")
var errPermanent = errors.New("permanent error")

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	var retried []int

	result, err := Do(context.Background(), fastConfig(3), isTransient,
		func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected onRetry attempts [1 2], got %v", retried)
	}
}

func TestDo_FailsImmediatelyOnPermanentError(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		return 0, errPermanent
	})

	if !errors.Is(err, errPermanent) {
		t.Errorf("expected permanent error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retries for permanent error), got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), fastConfig(2), isTransient, nil, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("expected transient error wrapped, got: %v", err)
	}
	// 1 initial + 2 retries = 3 total
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := Config{MaxRetries: 10, InitialBackoff: time.Second, MaxBackoff: time.Second}

	_, err := Do(ctx, cfg, isTransient, func(int, error, time.Duration) { cancel() }, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterStaysBounded(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2, Jitter: true}

	for range 100 {
		got := Backoff(cfg, 2)
		if got < 200*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("Backoff with jitter = %v, want within [200ms, 300ms]", got)
		}
	}
}

func TestBackoff_JitterNeverExceedsMax(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffFactor: 2, Jitter: true}

	for range 1000 {
		got := Backoff(cfg, 20)
		if got != 10*time.Second {
			t.Fatalf("Backoff(attempt=20) with jitter = %v, want capped at 10s", got)
		}
	}

	for range 1000 {
		got := Backoff(cfg, 4)
		if got < 8*time.Second || got > 10*time.Second {
			t.Fatalf("Backoff(attempt=4) with jitter = %v, want within [8s, 10s]", got)
		}
	}
}
