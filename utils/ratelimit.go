package utils

import (
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between calls across all callers.
// Every sender sharing the same instance waits out the remaining delay since
// the previous send, so text and photo dispatches serialize against one
// global delay budget.
type RateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	last     time.Time
}

// NewRateLimiter creates a RateLimiter with the given minimum interval.
func NewRateLimiter(minDelay time.Duration) *RateLimiter {
	return &RateLimiter{minDelay: minDelay}
}

// Wait blocks until at least the configured minimum interval has elapsed
// since the previous call, then records the current time as the new mark.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.last)
	if elapsed < r.minDelay {
		time.Sleep(r.minDelay - elapsed)
	}
	r.last = time.Now()
}

// MinDelay returns the configured minimum interval.
func (r *RateLimiter) MinDelay() time.Duration {
	return r.minDelay
}
