// Package processor implements the atomic critical section of the
// money-movement engine: validate, lock both accounts in a stable order,
// debit, credit, and record the transaction together with its outbox event
// and idempotency record in a single commit.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledgerflow/internal/common/logging"
	"ledgerflow/internal/common/metrics"
	"ledgerflow/internal/ledger/domain"
)

// Config holds the processor's retry policy and idempotency window.
type Config struct {
	// IdempotencyWindow is how long a cached response stays replayable.
	IdempotencyWindow time.Duration
	// RetryAttempts caps attempts on transient conflicts.
	RetryAttempts int
	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration
	// BackoffMax caps the delay between retries.
	BackoffMax time.Duration
}

// DefaultConfig returns the retry policy from the service defaults:
// 3 attempts, 100ms initial backoff with multiplier 5, capped at 2s.
func DefaultConfig() Config {
	return Config{
		IdempotencyWindow: 24 * time.Hour,
		RetryAttempts:     3,
		BackoffInitial:    100 * time.Millisecond,
		BackoffMax:        2 * time.Second,
	}
}

// Processor executes transfer requests against the store.
// Safe for concurrent use; each invocation runs in its own store
// transaction and requests against overlapping accounts serialize on the
// row locks.
type Processor struct {
	store domain.AtomicExecutor
	repos domain.Repositories
	cfg   Config
	now   func() time.Time
}

// New creates a Processor. The store must implement both AtomicExecutor
// and Repositories.
func New(store interface {
	domain.AtomicExecutor
	domain.Repositories
}, cfg Config) *Processor {
	return &Processor{
		store: store,
		repos: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// WithClock overrides the processor's time source. Intended for tests that
// exercise the idempotency window.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process executes a transfer request and returns the committed
// Transaction row, COMPLETED or FAILED. The operation is effectively
// idempotent on the request's idempotency key: repeating the identical
// request within the window returns a response byte-equal to the first and
// performs no further state change, while a materially different request
// under the same key is rejected with ErrTransactionConflict.
//
// Malformed requests are rejected with ErrInvalidRequest before any store
// access. Transient store conflicts are retried with exponential backoff;
// business rejections are committed as FAILED rows on the first attempt
// and never retried.
func (p *Processor) Process(ctx context.Context, req *domain.TransferRequest) (*domain.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := p.now()

	// Read-only short-circuit: an unexpired record replays the cached
	// response without touching any other table.
	cached, err := p.peek(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		// A reused key only replays the identical request. A different
		// payload under the same key is a caller contract violation, not
		// a duplicate.
		if !req.Matches(cached) {
			return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, domain.ErrTransactionConflict)
		}
		logging.InfoContext(ctx, "Duplicate transfer replayed",
			"transaction_id", cached.TransactionID,
			"idempotency_key", req.IdempotencyKey,
		)
		metrics.RecordIdempotencyCacheHit()
		metrics.RecordTransactionProcessed("duplicate")
		return cached, nil
	}

	var lastErr error
	backoff := p.cfg.BackoffInitial
	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			metrics.TransactionRetries.Inc()
			logging.WarnContext(ctx, "Retrying transfer after transient conflict",
				"transaction_id", req.TransactionID,
				"attempt", attempt+1,
				"error", lastErr.Error(),
			)
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, p.cfg.BackoffMax)
		}

		txn, err := p.attempt(ctx, req)
		if err == nil {
			p.recordOutcome(ctx, req, txn, start)
			return txn, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	metrics.RecordTransactionProcessed("conflict_exhausted")
	return nil, fmt.Errorf("transfer %s: retries exhausted: %w", req.TransactionID, lastErr)
}

// peek is the read-only idempotency check. Expired records are treated as
// absent.
func (p *Processor) peek(ctx context.Context, key string) (*domain.Transaction, error) {
	record, err := p.repos.Idempotency().Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Expired(p.now()) {
		return nil, nil
	}

	var txn domain.Transaction
	if err := json.Unmarshal(record.Response, &txn); err != nil {
		return nil, fmt.Errorf("%w: cached response for key %s: %v", domain.ErrCorruptData, key, err)
	}
	return &txn, nil
}

// attempt runs one pass of the critical section in a single store
// transaction. On success the returned row is COMPLETED or FAILED and the
// commit has happened; any error means the transaction rolled back and the
// request left no trace.
func (p *Processor) attempt(ctx context.Context, req *domain.TransferRequest) (*domain.Transaction, error) {
	var result *domain.Transaction

	err := p.store.Atomic(ctx, func(repos domain.Repositories) error {
		now := p.now()

		// A transaction id reused under a different key is a caller
		// contract violation, surfaced before anything is locked.
		if existing, err := repos.Transactions().FindByID(ctx, req.TransactionID); err == nil {
			if existing.IdempotencyKey != req.IdempotencyKey {
				return fmt.Errorf("transaction %s: %w", req.TransactionID, domain.ErrTransactionConflict)
			}
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		// A prior row under the same key is either the winner of a
		// concurrent race (replay it) or a stale FAILED/expired row
		// (supersede it, keeping at most one row per key).
		replayed, err := p.resolvePriorAttempt(ctx, repos, req, now)
		if err != nil {
			return err
		}
		if replayed != nil {
			result = replayed
			return nil
		}

		// A self-transfer never acquires two locks on the same row.
		if req.FromAccountID == req.ToAccountID {
			return p.rejectTransfer(ctx, repos, req, "self transfer is not permitted", now, &result)
		}

		from, to, err := lockAccountPair(ctx, repos, req.FromAccountID, req.ToAccountID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return p.rejectTransfer(ctx, repos, req, "account not found", now, &result)
		}
		if err != nil {
			return err
		}

		if reason := validateTransfer(from, to, req); reason != "" {
			return p.rejectTransfer(ctx, repos, req, reason, now, &result)
		}

		if err := from.Debit(req.Amount, now); err != nil {
			return p.rejectTransfer(ctx, repos, req, "insufficient balance", now, &result)
		}
		to.Credit(req.Amount, now)

		if err := repos.Accounts().Save(ctx, from); err != nil {
			return err
		}
		if err := repos.Accounts().Save(ctx, to); err != nil {
			return err
		}

		txn := domain.CompletedTransaction(req, now)
		if err := repos.Transactions().Insert(ctx, txn); err != nil {
			return err
		}

		event, err := domain.NewTransactionCompletedEvent(txn, now)
		if err != nil {
			return err
		}
		if err := repos.Outbox().Append(ctx, event); err != nil {
			return err
		}

		// The cached response is the same serialized row the outbox
		// carries, so replays are byte-equal to the first response.
		if err := repos.Idempotency().Set(ctx, &domain.IdempotencyRecord{
			RecordID:       uuid.NewString(),
			IdempotencyKey: req.IdempotencyKey,
			TransactionID:  txn.TransactionID,
			Response:       event.Payload,
			CreatedAt:      now,
			ExpiresAt:      now.Add(p.cfg.IdempotencyWindow),
		}); err != nil {
			return err
		}

		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolvePriorAttempt handles an existing transaction row under the
// request's idempotency key. A COMPLETED row with an unexpired record is
// the winner of a concurrent duplicate race and is replayed. A FAILED row
// or an expired window is superseded: the stale row and record are removed
// so the fresh attempt can take their place in this same transaction.
func (p *Processor) resolvePriorAttempt(ctx context.Context, repos domain.Repositories, req *domain.TransferRequest, now time.Time) (*domain.Transaction, error) {
	existing, err := repos.Transactions().FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	record, err := repos.Idempotency().Get(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if existing.Status == domain.StatusCompleted && record != nil && !record.Expired(now) {
		if !req.Matches(existing) {
			return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, domain.ErrTransactionConflict)
		}
		var txn domain.Transaction
		if err := json.Unmarshal(record.Response, &txn); err != nil {
			return nil, fmt.Errorf("%w: cached response for key %s: %v", domain.ErrCorruptData, req.IdempotencyKey, err)
		}
		return &txn, nil
	}

	if err := repos.Transactions().Delete(ctx, existing.TransactionID); err != nil {
		return nil, err
	}
	if record != nil {
		if err := repos.Idempotency().Delete(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// rejectTransfer commits a FAILED row for a deterministic business
// rejection. No idempotency record, no outbox event, no balance change;
// the client may fix the condition and resubmit.
func (p *Processor) rejectTransfer(ctx context.Context, repos domain.Repositories, req *domain.TransferRequest, reason string, now time.Time, result **domain.Transaction) error {
	failed := domain.FailedTransaction(req, reason, now)
	if err := repos.Transactions().Insert(ctx, failed); err != nil {
		return err
	}
	logging.WarnContext(ctx, "Transfer rejected",
		"transaction_id", req.TransactionID,
		"reason", reason,
	)
	*result = failed
	return nil
}

// lockAccountPair takes row-level write locks on both accounts in
// ascending byte order of account id. The fixed global order keeps the
// wait-for graph acyclic when two transfers run in opposite directions
// between the same pair.
func lockAccountPair(ctx context.Context, repos domain.Repositories, fromID, toID string) (from, to *domain.Account, err error) {
	first, second := fromID, toID
	if first > second {
		first, second = second, first
	}

	a, err := repos.Accounts().FindByIDForUpdate(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := repos.Accounts().FindByIDForUpdate(ctx, second)
	if err != nil {
		return nil, nil, err
	}

	if a.AccountID == fromID {
		return a, b, nil
	}
	return b, a, nil
}

// validateTransfer checks the business rules against the locked accounts.
// It returns an empty string when the transfer may proceed.
func validateTransfer(from, to *domain.Account, req *domain.TransferRequest) string {
	if !from.IsActive() {
		return fmt.Sprintf("source account %s is not active", from.AccountID)
	}
	if !to.IsActive() {
		return fmt.Sprintf("destination account %s is not active", to.AccountID)
	}
	if from.Currency != req.Currency || to.Currency != req.Currency {
		return "currency mismatch"
	}
	if !from.HasSufficientBalance(req.Amount) {
		return "insufficient balance"
	}
	return ""
}

func (p *Processor) recordOutcome(ctx context.Context, req *domain.TransferRequest, txn *domain.Transaction, start time.Time) {
	metrics.RecordProcessingDuration(string(req.Type), p.now().Sub(start))
	if txn.Status == domain.StatusFailed {
		metrics.RecordTransactionProcessed("rejected")
		return
	}
	metrics.RecordTransactionProcessed("completed")
	logging.InfoContext(ctx, "Transfer completed",
		"transaction_id", txn.TransactionID,
		"from_account", txn.FromAccountID,
		"to_account", txn.ToAccountID,
		"amount", txn.Amount.String(),
		"currency", txn.Currency,
	)
}
