package data

import (
	"context"
	"encoding/json"
	"fmt"

	"CareFlow/internal/conf"
	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Broadcast drivers accepted by broadcast.driver.
const (
	BroadcastRedis = "redis"
	BroadcastKafka = "kafka"
	BroadcastNone  = "none"
)

// DefaultBroadcastChannel is the Redis channel (and Kafka topic) used when
// none is configured.
const DefaultBroadcastChannel = "careflow:broadcast"

// Broadcaster publishes workflow events to live sessions.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *model.BroadcastMessage) error
}

// NewBroadcaster builds the broadcaster selected by broadcast.driver.
func NewBroadcaster(c *conf.Broadcast, rdb *redis.Client, logger log.Logger) (Broadcaster, func(), error) {
	driver := BroadcastRedis
	channel := DefaultBroadcastChannel
	if c != nil {
		if c.Driver != "" {
			driver = c.Driver
		}
		if c.Channel != "" {
			channel = c.Channel
		}
	}

	switch driver {
	case BroadcastRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis broadcaster requires a redis client")
		}
		return NewRedisBroadcaster(rdb, channel, logger), func() {}, nil
	case BroadcastKafka:
		topic := c.KafkaTopic
		if topic == "" {
			topic = channel
		}
		b, err := NewKafkaBroadcaster(c.KafkaBrokers, topic, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case BroadcastNone:
		return NewLogBroadcaster(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown broadcast driver %q", driver)
}

// RedisBroadcaster publishes every message on the shared channel and on the
// per-client channel "<channel>:<clientId>".
type RedisBroadcaster struct {
	rdb     *redis.Client
	channel string
	logger  *log.Helper
}

// NewRedisBroadcaster creates a Redis pub/sub broadcaster.
func NewRedisBroadcaster(rdb *redis.Client, channel string, logger log.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:     rdb,
		channel: channel,
		logger:  log.NewHelper(log.With(logger, "module", "data/broadcast")),
	}
}

// ClientChannel is the channel carrying one client's messages.
func (b *RedisBroadcaster) ClientChannel(clientID string) string {
	return b.channel + ":" + clientID
}

// Broadcast publishes msg. Having no subscribers is not an error.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, msg *model.BroadcastMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}

	pipe := b.rdb.Pipeline()
	shared := pipe.Publish(ctx, b.channel, payload)
	var direct *redis.IntCmd
	if msg.ClientID != "" {
		direct = pipe.Publish(ctx, b.ClientChannel(msg.ClientID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}

	receivers := shared.Val()
	if direct != nil {
		receivers += direct.Val()
	}
	b.logger.Debugw("msg", "broadcast published", "type", msg.Type, "client_id", msg.ClientID, "receivers", receivers)
	return nil
}

// LogBroadcaster only logs messages.
type LogBroadcaster struct {
	logger *log.Helper
}

// NewLogBroadcaster creates a log-only broadcaster.
func NewLogBroadcaster(logger log.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: log.NewHelper(log.With(logger, "module", "data/broadcast"))}
}

// Broadcast logs msg.
func (b *LogBroadcaster) Broadcast(_ context.Context, msg *model.BroadcastMessage) error {
	b.logger.Infow("msg", "broadcast (delivery disabled)", "type", msg.Type, "client_id", msg.ClientID, "priority", msg.Priority)
	return nil
}
