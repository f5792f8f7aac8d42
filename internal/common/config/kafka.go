package config

import (
	"time"

	"github.com/IBM/sarama"
)

// NewSaramaProducerConfig returns the sarama configuration used by the
// relay and DLQ producers. Acks from all in-sync replicas are required so
// a publish acknowledgement really means the event is durable downstream.
func (c *Config) NewSaramaProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = c.OutboxPublishTimeout()
	return cfg
}

// NewSaramaConsumerConfig returns the sarama configuration for the ingress
// consumer group. Offsets are committed only after a record reaches a
// durable outcome, so delivery is at-least-once.
func (c *Config) NewSaramaConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second
	cfg.Consumer.Return.Errors = true
	return cfg
}
