package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/common/types"
)

// TransferRequest is the normalized ingress request. Both the HTTP adapter
// and the Kafka consumer deserialize into this shape before invoking the
// processor.
type TransferRequest struct {
	EventID        string          `json:"eventId"`
	TransactionID  string          `json:"transactionId"`
	FromAccountID  string          `json:"fromAccountId"`
	ToAccountID    string          `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Type           TransactionType `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// Matches reports whether txn records the same material transfer as this
// request. A cached response may only be replayed for a request that
// matches; EventID and Timestamp are delivery metadata and do not
// participate.
func (r *TransferRequest) Matches(txn *Transaction) bool {
	return r.TransactionID == txn.TransactionID &&
		r.FromAccountID == txn.FromAccountID &&
		r.ToAccountID == txn.ToAccountID &&
		r.Amount.Equal(txn.Amount) &&
		r.Currency == txn.Currency &&
		r.Type == txn.Type
}

// Validate checks the request for malformed input. Failures here are
// ingress rejections (HTTP 400 / DLQ) and never produce a Transaction row.
// Business conditions (balance, account status, currency match against the
// accounts) are checked by the processor instead.
func (r *TransferRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidRequest)
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotencyKey is required", ErrInvalidRequest)
	}
	if r.FromAccountID == "" {
		return fmt.Errorf("%w: fromAccountId is required", ErrInvalidRequest)
	}
	if r.ToAccountID == "" {
		return fmt.Errorf("%w: toAccountId is required", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !types.ValidAmountScale(r.Amount) {
		return fmt.Errorf("%w: amount exceeds scale of %d", ErrInvalidRequest, types.MaxAmountScale)
	}
	if !types.ValidCurrency(r.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter uppercase code", ErrInvalidRequest)
	}
	if !ValidTransactionType(r.Type) {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRequest, r.Type)
	}
	return nil
}
