package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerflow/internal/ledger/domain"
)

// DataStore wires the ledger repositories over a shared connection pool.
type DataStore struct {
	pool            *pgxpool.Pool
	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	idempotencyRepo *IdempotencyStore
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:            pool,
		accountRepo:     NewAccountRepository(pool),
		transactionRepo: NewTransactionRepository(pool),
		idempotencyRepo: NewIdempotencyStore(pool),
		outboxRepo:      NewOutboxRepository(pool),
	}
}

// Accounts returns the account repository.
func (ds *DataStore) Accounts() domain.AccountRepository {
	return ds.accountRepo
}

// Transactions returns the transaction repository.
func (ds *DataStore) Transactions() domain.TransactionRepository {
	return ds.transactionRepo
}

// Idempotency returns the idempotency store.
func (ds *DataStore) Idempotency() domain.IdempotencyStore {
	return ds.idempotencyRepo
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// withTx creates a new DataStore whose repositories share the given
// transaction. This is the key to the Atomic pattern: the callback sees
// repository instances bound to one transaction.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:            ds.pool,
		accountRepo:     NewAccountRepository(tx),
		transactionRepo: NewTransactionRepository(tx),
		idempotencyRepo: NewIdempotencyStore(tx),
		outboxRepo:      NewOutboxRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
//
// The commit is the serialization point of the whole engine: before it the
// request looks like it never arrived, after it the balance deltas, the
// transaction row, the outbox event and the idempotency record are visible
// simultaneously.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Use defer to handle both errors and panics
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
			}
		} else {
			err = tx.Commit(ctx)
			if err != nil {
				err = mapError(fmt.Errorf("commit transaction: %w", err))
			}
		}
	}()

	txDataStore := ds.withTx(tx)
	err = fn(txDataStore)
	return
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
