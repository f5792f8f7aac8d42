package domain

import (
	"context"
	"time"
)

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	// FindByID retrieves an account by id.
	// Returns ErrAccountNotFound when no record exists.
	FindByID(ctx context.Context, accountID string) (*Account, error)
	// FindByIDForUpdate retrieves an account and takes a row-level write
	// lock on it for the duration of the enclosing transaction. Callers
	// must acquire locks in ascending byte order of account id.
	// Returns ErrAccountNotFound when no record exists.
	FindByIDForUpdate(ctx context.Context, accountID string) (*Account, error)
	// Save inserts a new account or updates an existing one.
	// Implementations return ErrOptimisticLock if a version conflict is
	// detected on update.
	Save(ctx context.Context, account *Account) error
}

// TransactionRepository defines the interface for transaction persistence.
type TransactionRepository interface {
	// Insert writes a transaction row.
	// Returns ErrDuplicateKey when the transaction id or idempotency key
	// collides with an existing row.
	Insert(ctx context.Context, txn *Transaction) error
	// FindByID retrieves a transaction by id.
	// Returns ErrTransactionNotFound when no record exists.
	FindByID(ctx context.Context, transactionID string) (*Transaction, error)
	// FindByIdempotencyKey retrieves the transaction bound to a key.
	// Returns (nil, nil) when no record exists.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// Delete removes a transaction row. Only used to supersede a stale
	// FAILED row or an expired idempotency window under the same key.
	Delete(ctx context.Context, transactionID string) error
}

// IdempotencyStore defines the interface for idempotency record storage.
// Records must be written in the same transaction as the Transaction they
// describe; a cache outside the transaction would reintroduce the
// dual-write problem.
type IdempotencyStore interface {
	// Get retrieves a record by key, expired or not.
	// Returns (nil, nil) when no record exists.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Set stores a record for the given key.
	Set(ctx context.Context, record *IdempotencyRecord) error
	// Delete removes the record for a key. Used when an expired window is
	// superseded by a fresh request.
	Delete(ctx context.Context, key string) error
}

// OutboxRepository defines the interface for the transactional outbox.
// Events are appended within the same transaction as the state change,
// then drained asynchronously by the relay.
type OutboxRepository interface {
	// Append adds a PENDING event to the outbox.
	Append(ctx context.Context, event *OutboxEvent) error
	// FetchPending retrieves up to limit of the oldest PENDING events in
	// created_at order.
	FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	// CountPending returns the number of PENDING events.
	CountPending(ctx context.Context) (int64, error)
	// MarkPublished sets the event to PUBLISHED with the given timestamp.
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error
	// MarkFailed records a publish failure: the retry count is incremented
	// and the error message stored. When terminal is true the event moves
	// to FAILED and is no longer drained.
	MarkFailed(ctx context.Context, eventID string, errMsg string, terminal bool) error
}

// Repositories provides access to all repositories within a transaction.
// This is used with the Atomic pattern to ensure all operations share the
// same transaction.
type Repositories interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Idempotency() IdempotencyStore
	Outbox() OutboxRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a callback inside a store-side transaction. The
// commit is the serialization point: before it the request left no trace,
// after it every side effect is visible at once.
type AtomicExecutor interface {
	// Atomic executes the callback within a database transaction.
	// If the callback returns nil, the transaction is committed.
	// If the callback returns an error, the transaction is rolled back.
	Atomic(ctx context.Context, fn AtomicCallback) error
}
