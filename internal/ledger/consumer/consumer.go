// Package consumer implements the Kafka ingress adapter. It deserializes
// transaction-events records into transfer requests and hands them to the
// processor, committing offsets only once a record has reached a durable
// outcome.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"ledgerflow/internal/common/logging"
	"ledgerflow/internal/common/metrics"
	"ledgerflow/internal/common/types"
	"ledgerflow/internal/ledger/domain"
)

// TransferProcessor executes transfer requests. Satisfied by
// *processor.Processor.
type TransferProcessor interface {
	Process(ctx context.Context, req *domain.TransferRequest) (*domain.Transaction, error)
}

// DLQPublisher routes poison records to the dead-letter topic.
type DLQPublisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Config holds consumer wiring.
type Config struct {
	Brokers  []string
	GroupID  string
	Topic    string
	DLQTopic string
}

// Consumer reads transfer requests from the ingress topic. Delivery is
// at-least-once: a crash after processing but before the offset commit
// redelivers the record, and the idempotency layer absorbs the replay.
type Consumer struct {
	group     sarama.ConsumerGroup
	processor TransferProcessor
	dlq       DLQPublisher
	cfg       Config
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a consumer group member for the ingress topic.
func New(cfg Config, saramaCfg *sarama.Config, processor TransferProcessor, dlq DLQPublisher) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return &Consumer{
		group:     group,
		processor: processor,
		dlq:       dlq,
		cfg:       cfg,
	}, nil
}

// Start begins consuming in background goroutines until Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &groupHandler{processor: c.processor, dlq: c.dlq, dlqTopic: c.cfg.DLQTopic}

		// Consume returns on every rebalance; the session must be
		// recreated in a loop until the context is cancelled.
		for {
			if err := c.group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				logging.Error("Consumer session ended with error", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				logging.Error("Consumer group error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	logging.Info("Ingress consumer started",
		"group", c.cfg.GroupID,
		"topic", c.cfg.Topic,
	)
}

// Stop cancels the consume loop and closes the group.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("closing consumer group: %w", err)
	}
	logging.Info("Ingress consumer stopped")
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	processor TransferProcessor
	dlq       DLQPublisher
	dlqTopic  string
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition's records in order. Offsets are
// marked only after a durable outcome, so a crash mid-record redelivers it.
// A transient failure aborts the session instead of marking, which keeps
// the failed record at the head of the partition for the retry.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session.Context(), message); err != nil {
				return err
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle classifies one record. A nil return means the record reached a
// durable outcome (processed, rejected as FAILED, replayed, or parked on
// the DLQ) and its offset may be committed. A non-nil return means the
// outcome is unknown or transient and the record must be redelivered.
func (h *groupHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = logging.WithCorrelationID(ctx, types.NewCorrelationID())

	var req domain.TransferRequest
	if err := json.Unmarshal(message.Value, &req); err != nil {
		logging.WarnContext(ctx, "Unparseable ingress record, routing to DLQ",
			"offset", message.Offset,
			"partition", message.Partition,
			"error", err,
		)
		metrics.ConsumedEvents.WithLabelValues("poison").Inc()
		return h.park(ctx, message)
	}

	_, err := h.processor.Process(ctx, &req)
	if err == nil {
		metrics.ConsumedEvents.WithLabelValues("processed").Inc()
		return nil
	}

	// Deterministic rejections will fail identically on every redelivery;
	// park them instead of wedging the partition.
	if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrTransactionConflict) {
		logging.WarnContext(ctx, "Rejected ingress record, routing to DLQ",
			"transaction_id", req.TransactionID,
			"error", err,
		)
		metrics.ConsumedEvents.WithLabelValues("poison").Inc()
		return h.park(ctx, message)
	}

	metrics.ConsumedEvents.WithLabelValues("error").Inc()
	logging.ErrorContext(ctx, "Transient failure processing ingress record, will redeliver",
		"transaction_id", req.TransactionID,
		"offset", message.Offset,
		"error", err,
	)
	return err
}

// park forwards the raw record to the DLQ topic. The parked copy keeps the
// original key so related records stay together for whoever triages them.
func (h *groupHandler) park(ctx context.Context, message *sarama.ConsumerMessage) error {
	if err := h.dlq.Publish(ctx, h.dlqTopic, string(message.Key), message.Value); err != nil {
		// Parking failed; redeliver rather than drop the record.
		return fmt.Errorf("routing record to DLQ: %w", err)
	}
	metrics.DLQSent.Inc()
	return nil
}
