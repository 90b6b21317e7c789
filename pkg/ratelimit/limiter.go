package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimiter counts one request for key and reports whether it fits the
// current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
