package domain

import "errors"

// Domain errors for the ledger context.
var (
	// ErrInvalidRequest is returned for malformed ingress input. No
	// Transaction row is written for these.
	ErrInvalidRequest = errors.New("invalid transfer request")

	// ErrAccountNotFound is returned when an account cannot be found.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when a transaction cannot be found.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientBalance is returned when a debit would take the
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionConflict is returned when a request collides with an
	// existing transaction: a transaction id reused under a different
	// idempotency key, or a key reused for a materially different
	// request. Caller contract violations, never retried.
	ErrTransactionConflict = errors.New("request conflicts with an existing transaction")

	// ErrOptimisticLock is returned when a version check fails on update.
	// The processor treats it as a transient conflict and retries.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrDuplicateKey is returned by uniqueness-aware inserts when the
	// unique constraint is violated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrSerializationFailure is returned for store-side serialization or
	// deadlock aborts. The processor retries these with backoff.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in database")
)
