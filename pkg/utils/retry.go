// Package utils holds small helpers shared across packages.
package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls WithRetry. Backoff doubles after every failed
// attempt up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 250 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 5 * time.Second
	}
	return policy
}

// WithRetry runs fn up to MaxAttempts times with exponential backoff.
// The turn loop deliberately does not use this; callers that want
// at-least-once delivery wrap their own calls.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	policy = normalizeRetryPolicy(policy)

	backoff := policy.Backoff
	var last error
	for i := 1; i <= policy.MaxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := fn(i); err == nil {
			return nil
		} else {
			last = err
		}
		if i == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	if last != nil {
		return last
	}
	return fmt.Errorf("operation failed without error details")
}

// Truncate shortens s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
