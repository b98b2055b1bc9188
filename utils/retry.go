package utils

import (
	"fmt"
	"time"
)

// RetryConfig retries an operation with exponential back-off. The delay for
// attempt n is BaseDelay doubled n times, capped at MaxDelay when set.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 means uncapped
	Logger      *Logger
}

// Do runs fn until it succeeds or MaxAttempts is exhausted, sleeping between
// attempts. The returned error wraps the last failure.
func (r *RetryConfig) Do(operationName string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt - 1)
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, r.MaxAttempts, lastErr, delay)
			time.Sleep(delay)
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}

// delayFor returns the back-off delay after the given 0-based failed attempt.
func (r *RetryConfig) delayFor(attempt int) time.Duration {
	delay := r.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	return delay
}
