package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/server/middleware"
	"github.com/cryptonex/flashtrade/internal/service"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	CreateTrade(ctx context.Context, userID string, req service.CreateTradeRequest) (domain.FlashTrade, error)
	ListActive(ctx context.Context, userID string) ([]domain.FlashTrade, error)
	ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.FlashTrade, error)
	GetBalance(ctx context.Context, userID string) (float64, error)
	ListTransactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error)
	Settings() service.TradeSettings
}

// TradeHandler serves the user-facing flash-trade endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// StartTrade opens a flash trade for the authenticated user.
// POST /api/flash-trade/start
func (h *TradeHandler) StartTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req service.CreateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	trade, err := h.trades.CreateTrade(r.Context(), id.UserID, req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: start trade rejected",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trade)
}

// listTradesResponse wraps trade list responses.
type listTradesResponse struct {
	Trades []domain.FlashTrade `json:"trades"`
}

// ListActive returns the authenticated user's open trades.
// GET /api/flash-trade/active
func (h *TradeHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	trades, err := h.trades.ListActive(r.Context(), id.UserID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list active failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list active trades")
		return
	}
	if trades == nil {
		trades = []domain.FlashTrade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// History returns the authenticated user's trades, newest first.
// GET /api/flash-trade/history?limit=50&offset=0
func (h *TradeHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	trades, err := h.trades.ListHistory(r.Context(), id.UserID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trade history")
		return
	}
	if trades == nil {
		trades = []domain.FlashTrade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// Settings returns the public trade validation bounds.
// GET /api/flash-trade/settings
func (h *TradeHandler) Settings(w http.ResponseWriter, r *http.Request) {
	s := h.trades.Settings()
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":     s.Pairs,
		"durations": s.Durations,
		"min_stake": s.MinStake,
		"max_stake": s.MaxStake,
	})
}

// Balance returns the authenticated user's balance.
// GET /api/balance
func (h *TradeHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	balance, err := h.trades.GetBalance(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": balance})
}

// Transactions returns the authenticated user's balance-mutation records.
// GET /api/transactions?limit=50&offset=0
func (h *TradeHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	txs, err := h.trades.ListTransactions(r.Context(), id.UserID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: transactions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
