package data

import (
	"context"
	"encoding/json"
	"fmt"

	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBroadcaster produces broadcast messages to a Kafka topic keyed by
// client id, so one client's messages stay ordered within a partition.
type KafkaBroadcaster struct {
	client *kgo.Client
	topic  string
	logger *log.Helper
}

// NewKafkaBroadcaster connects a producer to brokers.
func NewKafkaBroadcaster(brokers []string, topic string, logger log.Logger) (*KafkaBroadcaster, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka broadcaster requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaBroadcaster{
		client: client,
		topic:  topic,
		logger: log.NewHelper(log.With(logger, "module", "data/broadcast")),
	}, nil
}

// Broadcast produces msg and waits for the broker acknowledgement.
func (b *KafkaBroadcaster) Broadcast(ctx context.Context, msg *model.BroadcastMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	rec := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(msg.ClientID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "priority", Value: []byte(msg.Priority)},
		},
	}
	if err := b.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce broadcast: %w", err)
	}
	b.logger.Debugw("msg", "broadcast produced", "type", msg.Type, "client_id", msg.ClientID, "topic", b.topic)
	return nil
}

// Close flushes pending records and closes the client.
func (b *KafkaBroadcaster) Close() {
	b.client.Close()
}
