package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// Producer publishes events to Kafka synchronously. The relay needs a
// broker acknowledgement before it marks an outbox row PUBLISHED, so the
// async producer is not an option here.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects a synchronous producer to the given brokers.
func NewProducer(brokers []string, cfg *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &Producer{producer: producer}, nil
}

// Publish sends one message keyed by key. Keyed partitioning keeps all
// events for the same aggregate on one partition, which preserves their
// relative order for consumers.
func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close shuts down the underlying producer, flushing in-flight messages.
func (p *Producer) Close() error {
	return p.producer.Close()
}
