// Package retry implements the cross-cutting retry decorator described in
// spec.md §4.11/§9: a higher-order function wrapping any operation that
// returns an error, backing off along a fixed, monotonically increasing
// schedule instead of reflecting over decorator metadata.
package retry

import (
	"context"
	"time"
)

// DefaultBackoff is the schedule from spec.md §4.11. The last value repeats
// once attempts exceed its length.
var DefaultBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	1500 * time.Millisecond,
	2500 * time.Millisecond,
	4 * time.Second,
	6500 * time.Millisecond,
	10500 * time.Millisecond,
	17 * time.Second,
	27500 * time.Millisecond,
	34500 * time.Millisecond,
}

// Policy configures a retry run.
type Policy struct {
	// MaxAttempts is the total number of calls to fn, including the first.
	MaxAttempts int
	// Backoff is the delay schedule between attempts. Defaults to
	// DefaultBackoff when nil.
	Backoff []time.Duration
	// IsRetryable decides whether an error should be retried. A nil
	// IsRetryable retries every error.
	IsRetryable func(error) bool
	// Sleep overrides time.Sleep, for deterministic tests.
	Sleep func(time.Duration)
}

func (p Policy) backoffFor(attempt int) time.Duration {
	schedule := p.Backoff
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

// Do runs fn, retrying on failure per policy. It returns the final error
// once attempts are exhausted, or nil on first success. Context
// cancellation is checked before each wait between attempts; a wait
// already in progress runs to its end.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if policy.IsRetryable != nil && !policy.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sleep(policy.backoffFor(attempt))
	}
	return lastErr
}

// DoValue is Do for operations that also produce a result.
func DoValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}
