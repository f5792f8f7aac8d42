package transfers

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"ledgerflow/internal/ledger/domain"
	"ledgerflow/internal/ledger/infrastructure/memory"
	"ledgerflow/internal/ledger/processor"
)

type transfersState struct {
	ctx           context.Context
	ds            *memory.DataStore
	proc          *processor.Processor
	accounts      map[string]string
	transferCount int
	lastResult    *domain.Transaction
	lastError     error
}

func InitializeTransfersScenario(sc *godog.ScenarioContext) {
	state := &transfersState{}

	sc.Before(func(ctx context.Context, scenario *godog.Scenario) (context.Context, error) {
		state.ctx = context.Background()
		state.ds = memory.NewDataStore()
		state.accounts = make(map[string]string)
		state.transferCount = 0
		state.lastResult = nil
		state.lastError = nil

		cfg := processor.DefaultConfig()
		cfg.BackoffInitial = time.Millisecond
		state.proc = processor.New(state.ds, cfg)
		return ctx, nil
	})

	sc.Step(`^an account "([^"]*)" with balance (\d+\.\d+) ([A-Z]{3})$`, state.anAccountWithBalance)
	sc.Step(`^I transfer (\d+\.\d+) ([A-Z]{3}) from "([^"]*)" to "([^"]*)"$`, state.iTransfer)
	sc.Step(`^I transfer (\d+\.\d+) ([A-Z]{3}) from "([^"]*)" to "([^"]*)" with idempotency key "([^"]*)"$`, state.iTransferWithKey)
	sc.Step(`^the transfer should complete$`, state.theTransferShouldComplete)
	sc.Step(`^the transfer should fail with reason "([^"]*)"$`, state.theTransferShouldFailWithReason)
	sc.Step(`^the balance of "([^"]*)" should be (\d+\.\d+) ([A-Z]{3})$`, state.theBalanceShouldBe)
	sc.Step(`^one outbox event should be pending$`, state.oneOutboxEventShouldBePending)
	sc.Step(`^no outbox event should be pending$`, state.noOutboxEventShouldBePending)
}

func (s *transfersState) accountID(name string) string {
	if id, ok := s.accounts[name]; ok {
		return id
	}
	// Unknown names stay unknown so scenarios can reference missing accounts.
	return "acc-" + name
}

func (s *transfersState) anAccountWithBalance(name, balance, currency string) error {
	id := "acc-" + name
	s.accounts[name] = id
	now := time.Now().UTC()
	return s.ds.Accounts().Save(s.ctx,
		domain.NewAccount(id, name, decimal.RequireFromString(balance), currency, now))
}

func (s *transfersState) iTransfer(amount, currency, from, to string) error {
	s.transferCount++
	return s.iTransferWithKey(amount, currency, from, to, fmt.Sprintf("idem-%d", s.transferCount))
}

func (s *transfersState) iTransferWithKey(amount, currency, from, to, key string) error {
	s.transferCount++
	req := &domain.TransferRequest{
		EventID:        fmt.Sprintf("evt-%d", s.transferCount),
		TransactionID:  "txn-" + key,
		FromAccountID:  s.accountID(from),
		ToAccountID:    s.accountID(to),
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency,
		Type:           domain.TypeTransfer,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: key,
	}

	s.lastResult, s.lastError = s.proc.Process(s.ctx, req)
	return nil // Errors are asserted by later steps.
}

func (s *transfersState) theTransferShouldComplete() error {
	if s.lastError != nil {
		return fmt.Errorf("transfer failed: %w", s.lastError)
	}
	if s.lastResult == nil {
		return fmt.Errorf("no transfer result")
	}
	if s.lastResult.Status != domain.StatusCompleted {
		return fmt.Errorf("expected COMPLETED, got %s (%s)", s.lastResult.Status, s.lastResult.FailureReason)
	}
	return nil
}

func (s *transfersState) theTransferShouldFailWithReason(reason string) error {
	if s.lastError != nil {
		return fmt.Errorf("expected a FAILED row, got error: %w", s.lastError)
	}
	if s.lastResult == nil {
		return fmt.Errorf("no transfer result")
	}
	if s.lastResult.Status != domain.StatusFailed {
		return fmt.Errorf("expected FAILED, got %s", s.lastResult.Status)
	}
	if s.lastResult.FailureReason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, s.lastResult.FailureReason)
	}
	return nil
}

func (s *transfersState) theBalanceShouldBe(name, balance, currency string) error {
	acc, err := s.ds.Accounts().FindByID(s.ctx, s.accountID(name))
	if err != nil {
		return err
	}
	expected := decimal.RequireFromString(balance)
	if !acc.Balance.Equal(expected) {
		return fmt.Errorf("expected balance %s, got %s", expected, acc.Balance)
	}
	if acc.Currency != currency {
		return fmt.Errorf("expected currency %s, got %s", currency, acc.Currency)
	}
	return nil
}

func (s *transfersState) oneOutboxEventShouldBePending() error {
	return s.expectPendingEvents(1)
}

func (s *transfersState) noOutboxEventShouldBePending() error {
	return s.expectPendingEvents(0)
}

func (s *transfersState) expectPendingEvents(expected int) error {
	events, err := s.ds.Outbox().FetchPending(s.ctx, 100)
	if err != nil {
		return err
	}
	if len(events) != expected {
		return fmt.Errorf("expected %d pending events, got %d", expected, len(events))
	}
	return nil
}
