package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroadcaster_PublishesSharedAndClientChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := NewRedisBroadcaster(rdb, DefaultBroadcastChannel, log.DefaultLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, DefaultBroadcastChannel, b.ClientChannel("c-1"))
	defer sub.Close()
	// wait for both subscriptions to be confirmed
	for i := 0; i < 2; i++ {
		_, err := sub.Receive(ctx)
		require.NoError(t, err)
	}

	msg := &model.BroadcastMessage{
		Type:      model.BroadcastWorkflowAdvanced,
		ClientID:  "c-1",
		Data:      map[string]any{"from": 1, "to": 2},
		Timestamp: time.Now().UTC(),
		Priority:  model.PriorityNormal,
	}
	require.NoError(t, b.Broadcast(ctx, msg))

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		m, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		channels[m.Channel] = true

		var got model.BroadcastMessage
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, msg.Type, got.Type)
		assert.Equal(t, "c-1", got.ClientID)
	}
	assert.True(t, channels[DefaultBroadcastChannel])
	assert.True(t, channels["careflow:broadcast:c-1"])
}

func TestRedisBroadcaster_NoSubscribersIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := NewRedisBroadcaster(rdb, "custom", log.DefaultLogger)
	err := b.Broadcast(context.Background(), &model.BroadcastMessage{Type: model.BroadcastAuditAlert, Priority: model.PriorityHigh})
	assert.NoError(t, err)
}

func TestNewBroadcaster(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	logger := log.DefaultLogger

	t.Run("redis is the default", func(t *testing.T) {
		b, cleanup, err := NewBroadcaster(nil, rdb, logger)
		require.NoError(t, err)
		defer cleanup()
		assert.IsType(t, &RedisBroadcaster{}, b)
	})

	t.Run("redis without client", func(t *testing.T) {
		_, _, err := NewBroadcaster(&conf.Broadcast{Driver: BroadcastRedis}, nil, logger)
		assert.Error(t, err)
	})

	t.Run("none", func(t *testing.T) {
		b, cleanup, err := NewBroadcaster(&conf.Broadcast{Driver: BroadcastNone}, nil, logger)
		require.NoError(t, err)
		defer cleanup()
		assert.IsType(t, &LogBroadcaster{}, b)
		assert.NoError(t, b.Broadcast(context.Background(), &model.BroadcastMessage{Type: "x"}))
	})

	t.Run("kafka needs brokers", func(t *testing.T) {
		_, _, err := NewBroadcaster(&conf.Broadcast{Driver: BroadcastKafka}, nil, logger)
		assert.Error(t, err)
	})

	t.Run("kafka client is lazy", func(t *testing.T) {
		b, cleanup, err := NewBroadcaster(&conf.Broadcast{
			Driver:       BroadcastKafka,
			KafkaBrokers: []string{"127.0.0.1:1"},
			KafkaTopic:   "careflow.workflow",
		}, nil, logger)
		require.NoError(t, err)
		assert.IsType(t, &KafkaBroadcaster{}, b)
		cleanup()
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := NewBroadcaster(&conf.Broadcast{Driver: "carrier-pigeon"}, rdb, logger)
		assert.Error(t, err)
	})
}
