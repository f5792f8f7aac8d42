package relay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerflow/internal/ledger/domain"
	"ledgerflow/internal/ledger/infrastructure/memory"
	"ledgerflow/internal/ledger/relay"
)

var baseTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

// capturePublisher records published messages and can be told to fail on
// specific keys.
type capturePublisher struct {
	published []publishedMessage
	failKeys  map[string]error
}

type publishedMessage struct {
	topic   string
	key     string
	payload []byte
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if err, ok := p.failKeys[key]; ok {
		return err
	}
	p.published = append(p.published, publishedMessage{topic: topic, key: key, payload: payload})
	return nil
}

func appendEvent(t *testing.T, outbox domain.OutboxRepository, aggregateID string, createdAt time.Time) *domain.OutboxEvent {
	t.Helper()
	event := &domain.OutboxEvent{
		EventID:     "evt-" + aggregateID,
		EventType:   domain.EventTypeTransactionCompleted,
		AggregateID: aggregateID,
		Payload:     []byte(fmt.Sprintf(`{"transactionId":%q}`, aggregateID)),
		Status:      domain.OutboxPending,
		CreatedAt:   createdAt,
	}
	require.NoError(t, outbox.Append(context.Background(), event))
	return event
}

func newRelay(outbox domain.OutboxRepository, publisher relay.Publisher) *relay.Relay {
	cfg := relay.DefaultConfig()
	cfg.Topic = "ledger-events"
	cfg.MaxRetries = 3
	return relay.New(outbox, publisher, cfg).WithClock(func() time.Time { return baseTime })
}

func TestDrainOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes pending events oldest first and marks them", func(t *testing.T) {
		outbox := memory.NewDataStore().Outbox()
		publisher := &capturePublisher{}

		appendEvent(t, outbox, "txn-2", baseTime.Add(time.Second))
		appendEvent(t, outbox, "txn-1", baseTime)

		r := newRelay(outbox, publisher)
		require.NoError(t, r.DrainOnce(ctx))

		require.Len(t, publisher.published, 2)
		require.Equal(t, "txn-1", publisher.published[0].key)
		require.Equal(t, "txn-2", publisher.published[1].key)
		require.Equal(t, "ledger-events", publisher.published[0].topic)

		pending, err := outbox.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("a publish failure stops the batch to preserve ordering", func(t *testing.T) {
		outbox := memory.NewDataStore().Outbox()
		publisher := &capturePublisher{
			failKeys: map[string]error{"txn-1": errors.New("broker unavailable")},
		}

		appendEvent(t, outbox, "txn-1", baseTime)
		appendEvent(t, outbox, "txn-2", baseTime.Add(time.Second))

		r := newRelay(outbox, publisher)
		require.NoError(t, r.DrainOnce(ctx))

		// txn-2 must not overtake txn-1.
		require.Empty(t, publisher.published)

		pending, err := outbox.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, 1, pending[0].RetryCount)
		require.Contains(t, pending[0].ErrorMessage, "broker unavailable")
	})

	t.Run("a recovered event publishes on the next drain", func(t *testing.T) {
		outbox := memory.NewDataStore().Outbox()
		publisher := &capturePublisher{
			failKeys: map[string]error{"txn-1": errors.New("broker unavailable")},
		}

		appendEvent(t, outbox, "txn-1", baseTime)

		r := newRelay(outbox, publisher)
		require.NoError(t, r.DrainOnce(ctx))
		require.Empty(t, publisher.published)

		publisher.failKeys = nil
		require.NoError(t, r.DrainOnce(ctx))
		require.Len(t, publisher.published, 1)
	})

	t.Run("an event exhausting its retries moves to FAILED", func(t *testing.T) {
		outbox := memory.NewDataStore().Outbox()
		publisher := &capturePublisher{
			failKeys: map[string]error{"txn-1": errors.New("broker unavailable")},
		}

		appendEvent(t, outbox, "txn-1", baseTime)

		r := newRelay(outbox, publisher)
		for i := 0; i < 3; i++ {
			require.NoError(t, r.DrainOnce(ctx))
		}

		// Terminal: the relay no longer picks it up.
		pending, err := outbox.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, pending)

		// A later, healthy event still flows.
		publisher.failKeys = nil
		appendEvent(t, outbox, "txn-2", baseTime.Add(time.Second))
		require.NoError(t, r.DrainOnce(ctx))
		require.Len(t, publisher.published, 1)
		require.Equal(t, "txn-2", publisher.published[0].key)
	})

	t.Run("an empty outbox drains without publishing", func(t *testing.T) {
		outbox := memory.NewDataStore().Outbox()
		publisher := &capturePublisher{}

		r := newRelay(outbox, publisher)
		require.NoError(t, r.DrainOnce(ctx))
		require.Empty(t, publisher.published)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	outbox := memory.NewDataStore().Outbox()
	publisher := &capturePublisher{}

	cfg := relay.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	r := relay.New(outbox, publisher, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	appendEvent(t, outbox, "txn-1", baseTime)

	require.Eventually(t, func() bool {
		pending, err := outbox.FetchPending(context.Background(), 1)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after context cancellation")
	}
}
