package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"ledgerflow/internal/ledger/api"
	"ledgerflow/internal/ledger/domain"
	"ledgerflow/internal/ledger/infrastructure/memory"
	"ledgerflow/internal/ledger/processor"
)

// HandlerSuite tests HTTP handler behavior including error mapping.
// Domain outcomes must translate to the documented status codes: 200 for a
// completed or replayed transfer, 400 for malformed input, 409 for a
// conflict, 422 for a business rejection.
type HandlerSuite struct {
	suite.Suite
	mux *http.ServeMux
	ds  *memory.DataStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ds = memory.NewDataStore()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s.Require().NoError(s.ds.Accounts().Save(ctx,
		domain.NewAccount("acc-a", "Alice", decimal.RequireFromString("1000.00"), "EUR", now)))
	s.Require().NoError(s.ds.Accounts().Save(ctx,
		domain.NewAccount("acc-b", "Bob", decimal.RequireFromString("500.00"), "EUR", now)))

	cfg := processor.DefaultConfig()
	cfg.BackoffInitial = time.Millisecond
	proc := processor.New(s.ds, cfg)

	handler := api.NewHandler(proc, s.ds.Transactions())
	s.mux = http.NewServeMux()
	handler.RegisterRoutes(s.mux)
}

// Each s.Run block gets a fresh store so scenarios cannot bleed into each
// other through the idempotency table.
func (s *HandlerSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *HandlerSuite) transferBody(txnID, key, amount string) map[string]any {
	return map[string]any{
		"eventId":        "evt-" + txnID,
		"transactionId":  txnID,
		"fromAccountId":  "acc-a",
		"toAccountId":    "acc-b",
		"amount":         amount,
		"currency":       "EUR",
		"type":           "TRANSFER",
		"timestamp":      "2026-08-24T12:00:00Z",
		"idempotencyKey": key,
	}
}

func (s *HandlerSuite) doRequest(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestSubmitTransaction() {
	s.Run("completed transfer returns 200 with the transaction row", func() {
		rec := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "250.00"))

		s.Equal(http.StatusOK, rec.Code)

		var txn domain.Transaction
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &txn))
		s.Equal("txn-1", txn.TransactionID)
		s.Equal(domain.StatusCompleted, txn.Status)
		s.NotNil(txn.CompletedAt)
	})

	s.Run("duplicate submission returns 200 with the same body", func() {
		first := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "250.00"))
		second := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "250.00"))

		s.Equal(http.StatusOK, first.Code)
		s.Equal(http.StatusOK, second.Code)
		s.JSONEq(first.Body.String(), second.Body.String())
	})

	s.Run("business rejection returns 422 with the FAILED row", func() {
		rec := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "9999.00"))

		s.Equal(http.StatusUnprocessableEntity, rec.Code)

		var txn domain.Transaction
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &txn))
		s.Equal(domain.StatusFailed, txn.Status)
		s.Equal("insufficient balance", txn.FailureReason)
	})

	s.Run("malformed body returns 400", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, req)

		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("validation failure returns 400", func() {
		body := s.transferBody("txn-1", "idem-1", "250.00")
		body["currency"] = "euros"
		rec := s.doRequest(http.MethodPost, "/api/v1/transactions", body)

		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "currency")
	})

	s.Run("transaction id reuse under a different key returns 409", func() {
		first := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "10.00"))
		s.Equal(http.StatusOK, first.Code)

		rec := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-2", "10.00"))
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("a different payload under a reused key returns 409", func() {
		first := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "10.00"))
		s.Equal(http.StatusOK, first.Code)

		rec := s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "99.00"))
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestGetTransaction() {
	s.Run("returns the committed row", func() {
		s.doRequest(http.MethodPost, "/api/v1/transactions", s.transferBody("txn-1", "idem-1", "10.00"))

		rec := s.doRequest(http.MethodGet, "/api/v1/transactions/txn-1", nil)
		s.Equal(http.StatusOK, rec.Code)

		var txn domain.Transaction
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &txn))
		s.Equal("txn-1", txn.TransactionID)
	})

	s.Run("unknown id returns 404", func() {
		rec := s.doRequest(http.MethodGet, "/api/v1/transactions/txn-missing", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestHealth() {
	rec := s.doRequest(http.MethodGet, "/api/v1/transactions/health", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "UP")
}
