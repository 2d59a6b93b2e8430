// Package retry runs a fallible operation under a bounded attempt policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff selects how the delay evolves between attempts.
type Backoff int

const (
	Fixed Backoff = iota
	Doubling
)

// Policy bounds an operation to MaxAttempts calls with Delay between them.
// Retryable decides which errors are worth another attempt; nil means all.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	Retryable   func(error) bool
	// MaxDelay caps a Doubling delay; zero means DefaultMaxDelay.
	MaxDelay time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultMaxDelay caps doubling waits when the policy sets no MaxDelay.
const DefaultMaxDelay = 5 * time.Minute

func (p Policy) wait(attempt int) time.Duration {
	if p.Backoff != Doubling {
		return p.Delay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	d := p.Delay
	for i := 1; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Do calls op until it succeeds, returns a non-retryable error, or MaxAttempts is
// reached. The last error is returned on exhaustion. A cancelled ctx stops the wait.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := p.wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			}
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-t.C:
		}
	}
	return zero, lastErr
}
