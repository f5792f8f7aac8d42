package domain

import (
	"encoding/json"
	"time"

	"ledgerflow/internal/common/types"
)

// EventTypeTransactionCompleted is the downstream event emitted once per
// accepted transfer.
const EventTypeTransactionCompleted = "TRANSACTION_COMPLETED"

// OutboxStatus is the publication state of an outbox event.
type OutboxStatus string

// Outbox statuses. FAILED is terminal and requires operator intervention.
const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is a downstream notification committed atomically with the
// state change it describes. The relay drains PENDING rows in created_at
// order and publishes them keyed by AggregateID, which preserves
// per-aggregate ordering on the bus.
type OutboxEvent struct {
	EventID      string
	EventType    string
	AggregateID  string
	Payload      []byte
	Status       OutboxStatus
	CreatedAt    time.Time
	PublishedAt  *time.Time
	RetryCount   int
	ErrorMessage string
}

// NewTransactionCompletedEvent builds the PENDING outbox event for a
// committed transaction. The payload is the transaction's JSON shape, the
// same bytes returned to the caller.
func NewTransactionCompletedEvent(txn *Transaction, now time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:     types.NewEventID().String(),
		EventType:   EventTypeTransactionCompleted,
		AggregateID: txn.TransactionID,
		Payload:     payload,
		Status:      OutboxPending,
		CreatedAt:   now,
	}, nil
}

// Clone returns a copy of the event with its own payload buffer.
func (e *OutboxEvent) Clone() *OutboxEvent {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.PublishedAt != nil {
		published := *e.PublishedAt
		c.PublishedAt = &published
	}
	return &c
}
