// Package dashboard serves the account-facing credits endpoints: balance,
// transaction history and top-ups.
package dashboard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pixelforge/backend/internal/ledger"
	"github.com/pixelforge/backend/internal/middleware"
	"github.com/pixelforge/backend/internal/models"
)

type Handler struct {
	Credits ledger.Service
	Logger  *slog.Logger
}

func NewHandler(credits ledger.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Credits: credits, Logger: logger}
}

// --- GET /v1/credits ---

type balanceResponse struct {
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	bal, err := h.Credits.Balance(r.Context(), ident.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, `{"error":"no credit balance"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get balance", "account_id", ident.AccountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal.Balance, UpdatedAt: bal.UpdatedAt})
}

// --- GET /v1/credits/transactions ---

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Credits.Transactions(r.Context(), ident.AccountID, limit)
	if err != nil {
		h.Logger.Error("list transactions", "account_id", ident.AccountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- POST /v1/credits/topup ---

type topUpRequest struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type,omitempty"` // defaults to purchase
}

// TopUp applies a purchase or bonus transaction. Usage entries can only be
// written by settlement, never through this endpoint.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	txType := req.Type
	if txType == "" {
		txType = models.TxTypePurchase
	}
	entry, err := h.Credits.ApplyTransaction(r.Context(), ident.AccountID, txType, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrUsageReserved) {
			http.Error(w, `{"error":"usage transactions are settlement-only"}`, http.StatusBadRequest)
			return
		}
		h.Logger.Error("top up", "account_id", ident.AccountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
