// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"adoption-workflow/internal/common/errors"
)

// Policy defines retry behavior for transient failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults to errors.IsRetryable.
	Retryable func(error) bool
}

// ReadPolicy is used around read-only queries.
var ReadPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// StartupPolicy is used when connecting to dependencies at boot.
var StartupPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   2 * time.Second,
	MaxDelay:    30 * time.Second,
	Retryable:   func(error) bool { return true },
}

// Do calls op until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unwrapped so callers can still inspect its code.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		delay := p.BaseDelay * time.Duration(1<<attempt)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cancelled after %d attempts: %w", attempt+1, ctx.Err())
		}
	}
	return lastErr
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
