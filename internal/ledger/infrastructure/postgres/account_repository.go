package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"ledgerflow/internal/ledger/domain"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db Executor
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db Executor) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `account_id, account_name, balance, currency, status, created_at, updated_at, version`

// FindByID retrieves an account by id.
func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`,
		accountID,
	)
	return scanAccount(row)
}

// FindByIDForUpdate retrieves an account and takes a row-level write lock
// held until the enclosing transaction commits or aborts. Callers lock
// accounts in ascending byte order of id so opposing transfers cannot
// deadlock.
func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, accountID string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1 FOR UPDATE`,
		accountID,
	)
	return scanAccount(row)
}

// Save inserts a new account or updates an existing one with an optimistic
// version check. The check is belt-and-braces under the row lock; a
// mismatch means another writer slipped in and the caller should retry.
func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	if account.Version <= 1 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO accounts (account_id, account_name, balance, currency, status, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			account.AccountID,
			account.Name,
			decimalToNumeric(account.Balance),
			account.Currency,
			string(account.Status),
			timeToTimestamptz(account.CreatedAt),
			timeToTimestamptz(account.UpdatedAt),
			account.Version,
		)
		return mapError(err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET balance = $1, status = $2, updated_at = $3, version = $4
		 WHERE account_id = $5 AND version = $6`,
		decimalToNumeric(account.Balance),
		string(account.Status),
		timeToTimestamptz(account.UpdatedAt),
		account.Version,
		account.AccountID,
		account.Version-1,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account   domain.Account
		balance   pgtype.Numeric
		status    string
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&account.AccountID,
		&account.Name,
		&balance,
		&account.Currency,
		&status,
		&createdAt,
		&updatedAt,
		&account.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	account.Status = domain.AccountStatus(status)

	if account.Balance, err = numericToDecimal(balance); err != nil {
		return nil, fmt.Errorf("%w: invalid balance: %v", domain.ErrCorruptData, err)
	}
	if account.CreatedAt, err = timestamptzToTime(createdAt); err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	if account.UpdatedAt, err = timestamptzToTime(updatedAt); err != nil {
		return nil, fmt.Errorf("%w: invalid updated_at: %v", domain.ErrCorruptData, err)
	}

	return &account, nil
}

// Verify interface implementation.
var _ domain.AccountRepository = (*AccountRepository)(nil)
