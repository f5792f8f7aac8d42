package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ledgerflow/internal/common/logging"
	"ledgerflow/internal/ledger/domain"
)

// TransferProcessor executes transfer requests. Satisfied by
// *processor.Processor.
type TransferProcessor interface {
	Process(ctx context.Context, req *domain.TransferRequest) (*domain.Transaction, error)
}

// TransactionReader looks up committed transaction rows.
type TransactionReader interface {
	FindByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
}

// Handler handles HTTP requests for the ledger context.
type Handler struct {
	processor    TransferProcessor
	transactions TransactionReader
}

// NewHandler creates a new Handler.
func NewHandler(processor TransferProcessor, transactions TransactionReader) *Handler {
	return &Handler{processor: processor, transactions: transactions}
}

// RegisterRoutes registers the ledger routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/transactions", h.SubmitTransaction)
	mux.HandleFunc("GET /api/v1/transactions/health", h.Health)
	mux.HandleFunc("GET /api/v1/transactions/{id}", h.GetTransaction)
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response for the health probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitTransaction handles POST /api/v1/transactions. The idempotency key
// travels in the request body; a repeat submission with the same key within
// the window returns the original response unchanged.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := h.processor.Process(ctx, &req)
	if err != nil {
		handleDomainError(ctx, w, err)
		return
	}

	// A business rejection committed an audit row but moved no money.
	if txn.Status == domain.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, txn)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// GetTransaction handles GET /api/v1/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "transaction id is required")
		return
	}

	txn, err := h.transactions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		handleDomainError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// Health handles GET /api/v1/transactions/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "UP"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTransactionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logging.ErrorContext(ctx, "Transfer processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
