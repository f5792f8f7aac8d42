package relay

import (
	"context"
	"time"

	"ledgerflow/internal/common/logging"
	"ledgerflow/internal/common/metrics"
	"ledgerflow/internal/ledger/domain"
)

// Publisher sends one event payload to the bus, keyed for per-aggregate
// partition ordering.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Config holds relay tuning.
type Config struct {
	Topic          string
	PollInterval   time.Duration
	BatchSize      int
	MaxRetries     int
	PublishTimeout time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Topic:          "ledger-events",
		PollInterval:   100 * time.Millisecond,
		BatchSize:      10,
		MaxRetries:     5,
		PublishTimeout: 5 * time.Second,
	}
}

// Relay drains PENDING outbox events and publishes them to the bus. It is
// the asynchronous half of the outbox pattern: the processor's commit made
// the event durable, the relay makes it visible.
//
// Publication is at-least-once. A crash between a successful publish and
// MarkPublished re-sends the event on restart, so downstream consumers must
// deduplicate on eventId.
type Relay struct {
	outbox    domain.OutboxRepository
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

// New creates a relay over the given outbox and publisher.
func New(outbox domain.OutboxRepository, publisher Publisher, cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the relay's clock. Test hook.
func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run polls the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	logging.Info("outbox relay started",
		"topic", r.cfg.Topic,
		"poll_interval", r.cfg.PollInterval.String(),
		"batch_size", r.cfg.BatchSize,
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				logging.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce fetches one batch of pending events and publishes them in
// created_at order. The batch stops at the first publish failure: skipping
// ahead would let a newer event for the same aggregate overtake an older
// one on the bus.
func (r *Relay) DrainOnce(ctx context.Context) error {
	events, err := r.outbox.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	r.observeBacklog(ctx, events)

	for _, event := range events {
		if err := r.publishOne(ctx, event); err != nil {
			return nil
		}
	}
	return nil
}

func (r *Relay) publishOne(ctx context.Context, event *domain.OutboxEvent) error {
	pubCtx := ctx
	if r.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
	}

	err := r.publisher.Publish(pubCtx, r.cfg.Topic, event.AggregateID, event.Payload)
	if err != nil {
		metrics.OutboxPublished.WithLabelValues("error").Inc()
		terminal := r.cfg.MaxRetries > 0 && event.RetryCount+1 >= r.cfg.MaxRetries
		if markErr := r.outbox.MarkFailed(ctx, event.EventID, err.Error(), terminal); markErr != nil {
			logging.Error("marking outbox event failed",
				"event_id", event.EventID, "error", markErr)
		}
		if terminal {
			logging.Error("outbox event moved to FAILED, operator intervention required",
				"event_id", event.EventID,
				"aggregate_id", event.AggregateID,
				"retry_count", event.RetryCount+1,
				"error", err,
			)
		} else {
			logging.Warn("outbox publish failed, will retry",
				"event_id", event.EventID,
				"retry_count", event.RetryCount+1,
				"error", err,
			)
		}
		return err
	}

	if err := r.outbox.MarkPublished(ctx, event.EventID, r.now()); err != nil {
		// The event went out but the row still says PENDING. The next
		// drain re-sends it; consumers dedupe on eventId.
		logging.Error("marking outbox event published",
			"event_id", event.EventID, "error", err)
		return err
	}

	metrics.OutboxPublished.WithLabelValues("success").Inc()
	logging.Debug("outbox event published",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
	)
	return nil
}

func (r *Relay) observeBacklog(ctx context.Context, batch []*domain.OutboxEvent) {
	count, err := r.outbox.CountPending(ctx)
	if err == nil {
		metrics.OutboxPendingEvents.Set(float64(count))
	}

	if len(batch) > 0 {
		metrics.OutboxOldestPendingAge.Set(r.now().Sub(batch[0].CreatedAt).Seconds())
	} else {
		metrics.OutboxOldestPendingAge.Set(0)
	}
}
