package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// CacheKeyRate is the prefix for fixed-window counters:
// careflow:rate:{scope}:{subject}:{window start unix}
const CacheKeyRate = "careflow:rate"

// RateLimitRepo keeps fixed-window request counters in Redis.
type RateLimitRepo struct {
	rdb    *redis.Client
	logger *log.Helper
	now    func() time.Time
}

// NewRateLimitRepo creates a new rate limit repository.
func NewRateLimitRepo(d *Data, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(log.With(logger, "module", "data/rate_limit")),
		now:    time.Now,
	}
}

// Increment counts one request by subject in the current window of scope and
// returns the new count and the time left in the window.
func (r *RateLimitRepo) Increment(ctx context.Context, scope, subject string, window time.Duration) (int64, time.Duration, error) {
	if r.rdb == nil {
		return 0, 0, errNilRedis
	}
	if window <= 0 {
		return 0, 0, fmt.Errorf("rate limit window must be positive")
	}

	now := r.now()
	start := now.Truncate(window)
	remaining := start.Add(window).Sub(now)
	key := getRateLimitKey(scope, subject, start)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment %s counter: %w", scope, err)
	}
	// the key outlives its window slightly so late readers still see it
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, window+time.Minute).Err(); err != nil {
			r.logger.Warnf("failed to set expiry on %s: %v", key, err)
		}
	}
	return count, remaining, nil
}

// getRateLimitKey generates a Redis key for one counter window.
// Example: careflow:rate:export:nurse-1:1760918400
func getRateLimitKey(scope, subject string, windowStart time.Time) string {
	return BuildCacheKey(CacheKeyRate, scope, subject, fmt.Sprint(windowStart.Unix()))
}
