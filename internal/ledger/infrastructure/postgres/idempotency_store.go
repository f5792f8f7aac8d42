package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"ledgerflow/internal/ledger/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
// Records live in the same database as the transactions they describe so
// both can be written in one commit.
type IdempotencyStore struct {
	db Executor
}

// NewIdempotencyStore creates a new PostgreSQL idempotency store.
func NewIdempotencyStore(db Executor) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Get retrieves a record by key, expired or not. Expiry is the caller's
// judgment; the row stays until the janitor or a superseding request
// removes it. Returns (nil, nil) when no record exists.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT record_id, idempotency_key, transaction_id, response, created_at, expires_at
		 FROM idempotency_records WHERE idempotency_key = $1`,
		key,
	)

	var (
		record    domain.IdempotencyRecord
		createdAt pgtype.Timestamptz
		expiresAt pgtype.Timestamptz
	)
	err := row.Scan(
		&record.RecordID,
		&record.IdempotencyKey,
		&record.TransactionID,
		&record.Response,
		&createdAt,
		&expiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	if record.CreatedAt, err = timestamptzToTime(createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	if record.ExpiresAt, err = timestamptzToTime(expiresAt); err != nil {
		return nil, fmt.Errorf("%w: invalid expires_at: %v", domain.ErrCorruptData, err)
	}

	return &record, nil
}

// Set stores a record for the given key. An upsert covers the supersede
// path, where a fresh attempt replaces an expired window under the same key.
func (s *IdempotencyStore) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_records (record_id, idempotency_key, transaction_id, response, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (idempotency_key) DO UPDATE
		 SET record_id = EXCLUDED.record_id,
		     transaction_id = EXCLUDED.transaction_id,
		     response = EXCLUDED.response,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		record.RecordID,
		record.IdempotencyKey,
		record.TransactionID,
		record.Response,
		timeToTimestamptz(record.CreatedAt),
		timeToTimestamptz(record.ExpiresAt),
	)
	return mapError(err)
}

// Delete removes the record for a key.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM idempotency_records WHERE idempotency_key = $1`,
		key,
	)
	return mapError(err)
}

// Verify interface implementation.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
