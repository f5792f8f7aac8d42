package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account statuses. Accounts are never deleted; a closed account keeps its
// row with status CLOSED.
const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// Account is a balance-holding party in a transfer.
// Invariants:
//   - Balance never goes below zero in a committed transaction
//   - Mutated only by the processor while holding a row-level write lock
type Account struct {
	AccountID string
	Name      string
	Balance   decimal.Decimal
	Currency  string
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// NewAccount creates an active account with the given opening balance.
// The now parameter makes the function pure and testable.
func NewAccount(accountID, name string, balance decimal.Decimal, currency string, now time.Time) *Account {
	return &Account{
		AccountID: accountID,
		Name:      name,
		Balance:   balance,
		Currency:  currency,
		Status:    AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// IsActive reports whether the account may participate in transfers.
func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// HasSufficientBalance reports whether the account can cover amount.
func (a *Account) HasSufficientBalance(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Debit subtracts amount from the balance.
// Returns ErrInsufficientBalance if the balance would go negative.
func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if !a.HasSufficientBalance(amount) {
		return ErrInsufficientBalance
	}
	a.Balance = a.Balance.Sub(amount)
	a.Version++
	a.UpdatedAt = now
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Add(amount)
	a.Version++
	a.UpdatedAt = now
}

// Clone returns a copy of the account. Used by in-memory stores to keep
// staged transaction state isolated from committed state.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}
