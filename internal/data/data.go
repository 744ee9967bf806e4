// Package data provides data access layer implementations.
// It holds the audit stores, Redis-backed workflow state and the
// collaborator stand-ins the workflow engine talks to.
package data

import (
	"CareFlow/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewAuditStores,
	NewWorkflowRepo,
	NewRecordStore,
	NewLogNotifier,
	NewCalendarService,
	NewBroadcaster,
	NewPredictor,
	NewRateLimitRepo,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs workflow state, records, calendar and pub/sub
	redisClient *redis.Client
	// cache is the JSON document layer over redisClient
	cache CacheClient
}

// NewData creates a new Data instance with all data layer dependencies.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, workflow state will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
