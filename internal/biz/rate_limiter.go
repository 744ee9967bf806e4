package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"CareFlow/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	rateScopeExport = "export"
	exportWindow    = time.Hour
)

// RateLimitExceededError reports a rejected request and when to retry.
type RateLimitExceededError struct {
	Scope      string
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s current=%d limit=%d retry_after=%ds",
		e.Scope, e.Count, e.Limit, int64(math.Ceil(e.RetryAfter.Seconds())))
}

// RateLimiterUseCase throttles decrypted audit exports per actor.
type RateLimiterUseCase struct {
	repo           RateLimitRepo
	exportsPerHour int64
	logger         *log.Helper
}

// NewRateLimiterUseCase creates a new rate limiter use case.
func NewRateLimiterUseCase(repo RateLimitRepo, c *conf.Audit, logger log.Logger) *RateLimiterUseCase {
	uc := &RateLimiterUseCase{
		repo:   repo,
		logger: log.NewHelper(log.With(logger, "module", "biz/rate_limiter")),
	}
	if c != nil && c.ExportsPerHour > 0 {
		uc.exportsPerHour = int64(c.ExportsPerHour)
	}
	return uc
}

// CheckExport counts one export by actorID. It returns a
// *RateLimitExceededError once the hourly cap is passed.
// Redis degradation: on Redis failure, logs warning and allows the export.
func (uc *RateLimiterUseCase) CheckExport(ctx context.Context, actorID string) error {
	if uc == nil || uc.exportsPerHour <= 0 {
		return nil
	}

	count, remaining, err := uc.repo.Increment(ctx, rateScopeExport, actorID, exportWindow)
	if err != nil {
		uc.logger.Warnf("export rate check failed for actor %s: %v (export allowed)", actorID, err)
		return nil
	}

	if count > uc.exportsPerHour {
		uc.logger.Warnw("msg", "export limit exceeded",
			"actor_id", actorID,
			"current", count,
			"limit", uc.exportsPerHour)
		return &RateLimitExceededError{
			Scope:      rateScopeExport,
			Count:      count,
			Limit:      uc.exportsPerHour,
			RetryAfter: remaining,
		}
	}
	return nil
}
