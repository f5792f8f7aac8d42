package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"ledgerflow/internal/ledger/domain"
)

// TransactionRepository implements domain.TransactionRepository using
// PostgreSQL. Rows are written once with their terminal status; the only
// mutation ever performed is Delete, used to supersede a stale row under
// the same idempotency key.
type TransactionRepository struct {
	db Executor
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db Executor) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `transaction_id, idempotency_key, from_account_id, to_account_id,
	amount, currency, type, status, failure_reason, created_at, completed_at, version`

// Insert writes a transaction row. Unique indices on transaction_id and
// idempotency_key surface as ErrDuplicateKey.
func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transactions (transaction_id, idempotency_key, from_account_id, to_account_id,
		 amount, currency, type, status, failure_reason, created_at, completed_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.TransactionID,
		txn.IdempotencyKey,
		txn.FromAccountID,
		txn.ToAccountID,
		decimalToNumeric(txn.Amount),
		txn.Currency,
		string(txn.Type),
		string(txn.Status),
		textFromString(txn.FailureReason),
		timeToTimestamptz(txn.CreatedAt),
		timePtrToTimestamptz(txn.CompletedAt),
		txn.Version,
	)
	return mapError(err)
}

// FindByID retrieves a transaction by id.
func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`,
		transactionID,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, err
}

// FindByIdempotencyKey retrieves the transaction bound to a key.
// Returns (nil, nil) when no record exists; absence is not an error here.
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`,
		key,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return txn, err
}

// Delete removes a transaction row.
func (r *TransactionRepository) Delete(ctx context.Context, transactionID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM transactions WHERE transaction_id = $1`,
		transactionID,
	)
	return mapError(err)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn           domain.Transaction
		amount        pgtype.Numeric
		txType        string
		status        string
		failureReason pgtype.Text
		createdAt     pgtype.Timestamptz
		completedAt   pgtype.Timestamptz
	)

	err := row.Scan(
		&txn.TransactionID,
		&txn.IdempotencyKey,
		&txn.FromAccountID,
		&txn.ToAccountID,
		&amount,
		&txn.Currency,
		&txType,
		&status,
		&failureReason,
		&createdAt,
		&completedAt,
		&txn.Version,
	)
	if err != nil {
		return nil, err
	}

	txn.Type = domain.TransactionType(txType)
	txn.Status = domain.TransactionStatus(status)
	txn.FailureReason = textToString(failureReason)

	if txn.Amount, err = numericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("%w: invalid amount: %v", domain.ErrCorruptData, err)
	}
	if txn.CreatedAt, err = timestamptzToTime(createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	if txn.CompletedAt, err = timestamptzToTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("%w: invalid completed_at: %v", domain.ErrCorruptData, err)
	}

	return &txn, nil
}

// Verify interface implementation.
var _ domain.TransactionRepository = (*TransactionRepository)(nil)
