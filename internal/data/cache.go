package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes. Every key lives under the careflow namespace.
const (
	// CacheKeyWorkflow is the prefix for workflow instances: careflow:workflow:{clientId}
	CacheKeyWorkflow = "careflow:workflow"
	// CacheKeyWorkflowDue is the sorted set of clients with a pending
	// auto-advance, scored by due time in unix milliseconds
	CacheKeyWorkflowDue = "careflow:workflows:due"
	// CacheKeyRecord is the prefix for record documents: careflow:record:{module}:{id}
	CacheKeyRecord = "careflow:record"
	// CacheKeyRecordIndex is the prefix for module id sets: careflow:records:{module}
	CacheKeyRecordIndex = "careflow:records"
	// CacheKeyCalendar is the sorted set of booked slots
	CacheKeyCalendar = "careflow:calendar:booked"
	// CacheKeyCalendarEvent is the prefix for calendar events: careflow:calendar:event:{id}
	CacheKeyCalendarEvent = "careflow:calendar:event"
)

// TTLs. Workflow state and records are durable.
const (
	// TTLWorkflow keeps instances until the workflow is removed
	TTLWorkflow time.Duration = 0
	// TTLRecord keeps record documents forever
	TTLRecord time.Duration = 0
	// TTLCalendarEvent bounds how long booked events are kept (90 days)
	TTLCalendarEvent = 90 * 24 * time.Hour
)

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient stores JSON documents in Redis.
// Implementations must be thread-safe and handle serialization/deserialization.
type CacheClient interface {
	// Get retrieves a value and deserializes it into dest.
	// Returns ErrCacheNotFound if key doesn't exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with the specified TTL. Zero means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores a value only if key does not exist yet.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// redisCache is the Redis-based implementation of CacheClient.
type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a new Redis-based cache client.
// If the Redis client is nil, cache operations fail with an error.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

var errNilRedis = errors.New("cache: redis client is nil")

// Get retrieves a value and deserializes it into dest.
// Returns ErrCacheNotFound if the key doesn't exist (redis.Nil).
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return errNilRedis
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

// Set stores a value with the specified TTL.
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return errNilRedis
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}

	return nil
}

// SetNX stores a value only if the key is absent.
func (c *redisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if c.client == nil {
		return false, errNilRedis
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	ok, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes a key.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return errNilRedis
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}

	return nil
}

// Exists checks if a key exists.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, errNilRedis
	}

	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check existence of key %s: %w", key, err)
	}

	return count > 0, nil
}

// BuildCacheKey constructs a key with the appropriate prefix.
// Examples:
//   - BuildCacheKey(CacheKeyWorkflow, "c-1") -> "careflow:workflow:c-1"
//   - BuildCacheKey(CacheKeyRecord, "Contacts", "c-1") -> "careflow:record:Contacts:c-1"
func BuildCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
