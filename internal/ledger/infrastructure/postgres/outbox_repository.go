package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"ledgerflow/internal/ledger/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	db Executor
}

// NewOutboxRepository creates a new PostgreSQL outbox repository.
func NewOutboxRepository(db Executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `event_id, event_type, aggregate_id, payload, status,
	created_at, published_at, retry_count, error_message`

// Append adds a PENDING event to the outbox. Must run inside the same
// transaction as the state change it describes.
func (r *OutboxRepository) Append(ctx context.Context, event *domain.OutboxEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, status,
		 created_at, published_at, retry_count, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.EventID,
		event.EventType,
		event.AggregateID,
		event.Payload,
		string(event.Status),
		timeToTimestamptz(event.CreatedAt),
		timePtrToTimestamptz(event.PublishedAt),
		event.RetryCount,
		textFromString(event.ErrorMessage),
	)
	return mapError(err)
}

// FetchPending retrieves up to limit of the oldest PENDING events in
// created_at order. Single-relay deployment; no SKIP LOCKED needed.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+outboxColumns+` FROM outbox_events
		 WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(domain.OutboxPending),
		limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, mapError(rows.Err())
}

// CountPending returns the number of PENDING events.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE status = $1`,
		string(domain.OutboxPending),
	)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// MarkPublished sets the event to PUBLISHED with the given timestamp.
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_events
		 SET status = $1, published_at = $2, error_message = NULL
		 WHERE event_id = $3`,
		string(domain.OutboxPublished),
		timeToTimestamptz(publishedAt),
		eventID,
	)
	return mapError(err)
}

// MarkFailed records a publish failure. The retry count increments on every
// call; when terminal is true the event moves to FAILED and the relay stops
// picking it up.
func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID string, errMsg string, terminal bool) error {
	status := domain.OutboxPending
	if terminal {
		status = domain.OutboxFailed
	}
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_events
		 SET status = $1, retry_count = retry_count + 1, error_message = $2
		 WHERE event_id = $3`,
		string(status),
		textFromString(errMsg),
		eventID,
	)
	return mapError(err)
}

func scanOutboxEvent(row pgx.Row) (*domain.OutboxEvent, error) {
	var (
		event        domain.OutboxEvent
		status       string
		createdAt    pgtype.Timestamptz
		publishedAt  pgtype.Timestamptz
		errorMessage pgtype.Text
	)

	err := row.Scan(
		&event.EventID,
		&event.EventType,
		&event.AggregateID,
		&event.Payload,
		&status,
		&createdAt,
		&publishedAt,
		&event.RetryCount,
		&errorMessage,
	)
	if err != nil {
		return nil, mapError(err)
	}

	event.Status = domain.OutboxStatus(status)
	event.ErrorMessage = textToString(errorMessage)

	if event.CreatedAt, err = timestamptzToTime(createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	if event.PublishedAt, err = timestamptzToTimePtr(publishedAt); err != nil {
		return nil, fmt.Errorf("%w: invalid published_at: %v", domain.ErrCorruptData, err)
	}

	return &event, nil
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
