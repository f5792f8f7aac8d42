package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the business intent of a transfer.
type TransactionType string

// Transaction types accepted on ingress.
const (
	TypePayment    TransactionType = "PAYMENT"
	TypeTransfer   TransactionType = "TRANSFER"
	TypeRefund     TransactionType = "REFUND"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
)

// ValidTransactionType reports whether t is one of the accepted types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypePayment, TypeTransfer, TypeRefund, TypeWithdrawal:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a transaction record.
type TransactionStatus string

// Transaction statuses. A row is written with its terminal status
// (COMPLETED or FAILED) in the commit that creates it and never mutated
// afterwards.
const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
)

// Transaction is the audit record of a transfer attempt. The JSON shape is
// the ingress response and the downstream event payload, so it is marshalled
// once and cached byte-for-byte in the idempotency table.
type Transaction struct {
	TransactionID  string            `json:"transactionId"`
	IdempotencyKey string            `json:"idempotencyKey"`
	FromAccountID  string            `json:"fromAccountId"`
	ToAccountID    string            `json:"toAccountId"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	FailureReason  string            `json:"failureReason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Version        int64             `json:"-"`
}

// CompletedTransaction builds the COMPLETED record for an accepted request.
func CompletedTransaction(req *TransferRequest, now time.Time) *Transaction {
	completed := now
	return &Transaction{
		TransactionID:  req.TransactionID,
		IdempotencyKey: req.IdempotencyKey,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           req.Type,
		Status:         StatusCompleted,
		CreatedAt:      now,
		CompletedAt:    &completed,
		Version:        1,
	}
}

// FailedTransaction builds the FAILED record for a business rejection.
// Failure records keep the audit trail; they carry no idempotency record
// and no outbox event.
func FailedTransaction(req *TransferRequest, reason string, now time.Time) *Transaction {
	return &Transaction{
		TransactionID:  req.TransactionID,
		IdempotencyKey: req.IdempotencyKey,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           req.Type,
		Status:         StatusFailed,
		FailureReason:  reason,
		CreatedAt:      now,
		Version:        1,
	}
}

// Clone returns a copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}
