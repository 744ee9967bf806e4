package biz

import (
	"context"
	"time"
)

// RateLimitRepo counts requests in fixed windows.
// Implementation is in data layer (data.RateLimitRepo).
type RateLimitRepo interface {
	// Increment counts one request and returns the window count and the
	// time left in the window.
	Increment(ctx context.Context, scope, subject string, window time.Duration) (int64, time.Duration, error)
}
