package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// RetryPolicy runs a fallible call up to MaxAttempts times, waiting a fixed
// Delay between attempts. There is no wait after the final attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	// Retryable, when set, stops the loop early for errors it rejects.
	Retryable func(err error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRetryAttempts,
		Delay:       DefaultRetryDelay,
	}
}

// Do returns the number of attempts made and the last error, if every
// attempt failed.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("core: retry function is required")
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, joinErrors(lastErr, err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == attempts {
			return attempt, lastErr
		}
		if p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return attempt, joinErrors(lastErr, err)
			}
		}
	}
	return attempts, lastErr
}

// RetryValue runs fn under the policy and returns fallback once the attempts
// are exhausted. The error is returned alongside the fallback for logging.
func RetryValue[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn func(ctx context.Context) (T, error),
	fallback T,
) (T, int, error) {
	var value T
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		out, callErr := fn(ctx)
		if callErr != nil {
			return callErr
		}
		value = out
		return nil
	})
	if err != nil {
		return fallback, attempts, err
	}
	return value, attempts, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return errors.Join(existing, next)
}
