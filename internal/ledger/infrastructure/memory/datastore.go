// Package memory implements domain.AtomicExecutor and domain.Repositories
// in process memory. It backs unit tests and local development; production
// wiring uses the postgres datastore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledgerflow/internal/ledger/domain"
)

// DataStore is an in-memory store supporting the Atomic pattern.
// Concurrency: all access is guarded by a mutex, so transactions against
// any accounts serialize. That is stricter than row locking but preserves
// the same observable guarantees.
type DataStore struct {
	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction
	idempotency  map[string]*domain.IdempotencyRecord
	outbox       []*domain.OutboxEvent

	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	idempotencyRepo *IdempotencyStore
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		idempotency:  make(map[string]*domain.IdempotencyRecord),
		outbox:       make([]*domain.OutboxEvent, 0),
	}

	ds.accountRepo = &AccountRepository{store: ds}
	ds.transactionRepo = &TransactionRepository{store: ds}
	ds.idempotencyRepo = &IdempotencyStore{store: ds}
	ds.outboxRepo = &OutboxRepository{store: ds}

	return ds
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

// Atomic executes the callback atomically.
// It locks the store, runs the callback against a transactional snapshot,
// and commits staged changes only if the callback succeeds. An error rolls
// everything back: the request leaves no trace.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &txDataStore{
		parent:             ds,
		stagedAccounts:     make(map[string]*domain.Account),
		stagedTransactions: make(map[string]*domain.Transaction),
		stagedIdempotency:  make(map[string]*domain.IdempotencyRecord),
		deletedTxns:        make(map[string]bool),
		deletedIdempotency: make(map[string]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit: apply staged changes
	for id := range tx.deletedTxns {
		delete(ds.transactions, id)
	}
	for key := range tx.deletedIdempotency {
		delete(ds.idempotency, key)
	}
	for k, v := range tx.stagedAccounts {
		ds.accounts[k] = v
	}
	for k, v := range tx.stagedTransactions {
		ds.transactions[k] = v
	}
	for k, v := range tx.stagedIdempotency {
		ds.idempotency[k] = v
	}
	ds.outbox = append(ds.outbox, tx.stagedOutbox...)

	return nil
}

// txDataStore provides transaction isolation for memory operations.
type txDataStore struct {
	parent             *DataStore
	stagedAccounts     map[string]*domain.Account
	stagedTransactions map[string]*domain.Transaction
	stagedIdempotency  map[string]*domain.IdempotencyRecord
	stagedOutbox       []*domain.OutboxEvent
	deletedTxns        map[string]bool
	deletedIdempotency map[string]bool
}

func (tx *txDataStore) Accounts() domain.AccountRepository {
	return &txAccountRepository{tx: tx}
}

func (tx *txDataStore) Transactions() domain.TransactionRepository {
	return &txTransactionRepository{tx: tx}
}

func (tx *txDataStore) Idempotency() domain.IdempotencyStore {
	return &txIdempotencyStore{tx: tx}
}

func (tx *txDataStore) Outbox() domain.OutboxRepository {
	return &txOutboxRepository{tx: tx}
}

// Transactional repository implementations

type txAccountRepository struct {
	tx *txDataStore
}

func (r *txAccountRepository) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	if acc, ok := r.tx.stagedAccounts[accountID]; ok {
		return acc.Clone(), nil
	}
	if acc, ok := r.tx.parent.accounts[accountID]; ok {
		return acc.Clone(), nil
	}
	return nil, domain.ErrAccountNotFound
}

// FindByIDForUpdate behaves like FindByID: the store mutex already
// serializes the whole transaction.
func (r *txAccountRepository) FindByIDForUpdate(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.FindByID(ctx, accountID)
}

func (r *txAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	r.tx.stagedAccounts[account.AccountID] = account.Clone()
	return nil
}

type txTransactionRepository struct {
	tx *txDataStore
}

func (r *txTransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	if _, err := r.FindByID(ctx, txn.TransactionID); err == nil {
		return domain.ErrDuplicateKey
	}
	if existing, err := r.FindByIdempotencyKey(ctx, txn.IdempotencyKey); err != nil {
		return err
	} else if existing != nil {
		return domain.ErrDuplicateKey
	}
	r.tx.stagedTransactions[txn.TransactionID] = txn.Clone()
	return nil
}

func (r *txTransactionRepository) FindByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	if txn, ok := r.tx.stagedTransactions[transactionID]; ok {
		return txn.Clone(), nil
	}
	if r.tx.deletedTxns[transactionID] {
		return nil, domain.ErrTransactionNotFound
	}
	if txn, ok := r.tx.parent.transactions[transactionID]; ok {
		return txn.Clone(), nil
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *txTransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	for _, txn := range r.tx.stagedTransactions {
		if txn.IdempotencyKey == key {
			return txn.Clone(), nil
		}
	}
	for id, txn := range r.tx.parent.transactions {
		if txn.IdempotencyKey == key && !r.tx.deletedTxns[id] {
			return txn.Clone(), nil
		}
	}
	return nil, nil
}

func (r *txTransactionRepository) Delete(ctx context.Context, transactionID string) error {
	delete(r.tx.stagedTransactions, transactionID)
	r.tx.deletedTxns[transactionID] = true
	return nil
}

type txIdempotencyStore struct {
	tx *txDataStore
}

func (s *txIdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if record, ok := s.tx.stagedIdempotency[key]; ok {
		return record.Clone(), nil
	}
	if s.tx.deletedIdempotency[key] {
		return nil, nil
	}
	if record, ok := s.tx.parent.idempotency[key]; ok {
		return record.Clone(), nil
	}
	return nil, nil
}

func (s *txIdempotencyStore) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	s.tx.stagedIdempotency[record.IdempotencyKey] = record.Clone()
	return nil
}

func (s *txIdempotencyStore) Delete(ctx context.Context, key string) error {
	delete(s.tx.stagedIdempotency, key)
	s.tx.deletedIdempotency[key] = true
	return nil
}

type txOutboxRepository struct {
	tx *txDataStore
}

func (r *txOutboxRepository) Append(ctx context.Context, event *domain.OutboxEvent) error {
	r.tx.stagedOutbox = append(r.tx.stagedOutbox, event.Clone())
	return nil
}

func (r *txOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	return fetchPending(append(r.tx.parent.outbox, r.tx.stagedOutbox...), limit), nil
}

func (r *txOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	for _, ev := range append(r.tx.parent.outbox, r.tx.stagedOutbox...) {
		if ev.Status == domain.OutboxPending {
			n++
		}
	}
	return n, nil
}

func (r *txOutboxRepository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	return markPublished(r.tx.parent.outbox, eventID, publishedAt)
}

func (r *txOutboxRepository) MarkFailed(ctx context.Context, eventID string, errMsg string, terminal bool) error {
	return markFailed(r.tx.parent.outbox, eventID, errMsg, terminal)
}

// Non-transactional repositories: each operation takes the store mutex.

// AccountRepository is the pool-level account repository.
type AccountRepository struct {
	store *DataStore
}

func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if acc, ok := r.store.accounts[accountID]; ok {
		return acc.Clone(), nil
	}
	return nil, domain.ErrAccountNotFound
}

func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.FindByID(ctx, accountID)
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.AccountID] = account.Clone()
	return nil
}

// TransactionRepository is the pool-level transaction repository.
type TransactionRepository struct {
	store *DataStore
}

func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.transactions[txn.TransactionID]; ok {
		return domain.ErrDuplicateKey
	}
	for _, existing := range r.store.transactions {
		if existing.IdempotencyKey == txn.IdempotencyKey {
			return domain.ErrDuplicateKey
		}
	}
	r.store.transactions[txn.TransactionID] = txn.Clone()
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if txn, ok := r.store.transactions[transactionID]; ok {
		return txn.Clone(), nil
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, txn := range r.store.transactions {
		if txn.IdempotencyKey == key {
			return txn.Clone(), nil
		}
	}
	return nil, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, transactionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.transactions, transactionID)
	return nil
}

// IdempotencyStore is the pool-level idempotency store.
type IdempotencyStore struct {
	store *DataStore
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if record, ok := s.store.idempotency[key]; ok {
		return record.Clone(), nil
	}
	return nil, nil
}

func (s *IdempotencyStore) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.idempotency[record.IdempotencyKey] = record.Clone()
	return nil
}

func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.idempotency, key)
	return nil
}

// OutboxRepository is the pool-level outbox repository used by the relay.
type OutboxRepository struct {
	store *DataStore
}

func (r *OutboxRepository) Append(ctx context.Context, event *domain.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outbox = append(r.store.outbox, event.Clone())
	return nil
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fetchPending(r.store.outbox, limit), nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int64
	for _, ev := range r.store.outbox {
		if ev.Status == domain.OutboxPending {
			n++
		}
	}
	return n, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markPublished(r.store.outbox, eventID, publishedAt)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID string, errMsg string, terminal bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markFailed(r.store.outbox, eventID, errMsg, terminal)
}

// Shared helpers

func fetchPending(events []*domain.OutboxEvent, limit int) []*domain.OutboxEvent {
	pending := make([]*domain.OutboxEvent, 0, limit)
	for _, ev := range events {
		if ev.Status == domain.OutboxPending {
			pending = append(pending, ev.Clone())
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

func markPublished(events []*domain.OutboxEvent, eventID string, publishedAt time.Time) error {
	for _, ev := range events {
		if ev.EventID == eventID {
			ev.Status = domain.OutboxPublished
			ev.PublishedAt = &publishedAt
			return nil
		}
	}
	return domain.ErrTransactionNotFound
}

func markFailed(events []*domain.OutboxEvent, eventID string, errMsg string, terminal bool) error {
	for _, ev := range events {
		if ev.EventID == eventID {
			ev.RetryCount++
			ev.ErrorMessage = errMsg
			if terminal {
				ev.Status = domain.OutboxFailed
			}
			return nil
		}
	}
	return domain.ErrTransactionNotFound
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.Repositories   = (*txDataStore)(nil)
)
