package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_StopsAfterMaxAttemptsWithoutTrailingSleep(t *testing.T) {
	var sleeps []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}
	calls := 0
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 waits between 3 attempts, got %d", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 2*time.Second {
			t.Fatalf("expected fixed 2s delay, got %s", d)
		}
	}
}

func TestRetryPolicy_ReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{MaxAttempts: 3, Sleep: noSleep}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %d", attempts)
	}
}

func TestRetryPolicy_NonRetryableStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	attempts, err := RetryPolicy{
		MaxAttempts: 5,
		Sleep:       noSleep,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 || calls != 1 {
		t.Fatalf("expected single attempt with permanent error, got attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}

func TestRetryPolicy_CancelledSleepEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryPolicy{MaxAttempts: 3, Delay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation in error chain, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call before cancellation, got %d", calls)
	}
}

func TestRetryValue_ReturnsFallbackOnExhaustion(t *testing.T) {
	value, attempts, err := RetryValue(context.Background(), RetryPolicy{MaxAttempts: 3, Sleep: noSleep},
		func(context.Context) (string, error) { return "", errors.New("nope") },
		"fallback",
	)
	if err == nil || value != "fallback" || attempts != 3 {
		t.Fatalf("expected fallback after 3 attempts, got value=%q attempts=%d err=%v", value, attempts, err)
	}
}
