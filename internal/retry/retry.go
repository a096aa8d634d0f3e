// Package retry provides a small reusable retry policy with exponential
// backoff. The same policy object is shared by the OpenRouter client and
// both generators so attempt budgets and delays stay consistent.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay after the first failure; it doubles per attempt.
	BaseDelay time.Duration
	// IsRetryable decides whether a given error is worth another attempt.
	// A nil IsRetryable retries every error.
	IsRetryable func(error) bool
}

// Default is the policy used across the generation pipeline: three attempts
// with a 1s base delay.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the error
// is not retryable, or ctx is cancelled. The last error is returned wrapped
// with the attempt count.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
