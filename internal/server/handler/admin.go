package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// PolicyService defines the operator operations the admin handler requires.
type PolicyService interface {
	GetGlobalPolicy(ctx context.Context) (domain.Policy, error)
	SetGlobalPolicy(ctx context.Context, p domain.Policy) error
	GetUserPolicy(ctx context.Context, userID string) (domain.Policy, error)
	SetUserPolicy(ctx context.Context, userID string, p domain.Policy) error
	ClearUserPolicy(ctx context.Context, userID string) error
	ForceTradeResult(ctx context.Context, tradeID string, outcome domain.Outcome) (domain.SettleResult, error)
	AdjustBalance(ctx context.Context, userID string, amount float64, reason string) (float64, error)
}

// AdminHandler serves the operator control endpoints. Role enforcement
// happens in the middleware chain; every route here assumes an operator.
type AdminHandler struct {
	policies PolicyService
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(policies PolicyService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		policies: policies,
		logger:   logger,
	}
}

// GetPolicy returns the global default outcome policy.
// GET /api/admin/policy
func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.GetGlobalPolicy(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPolicy replaces the global default outcome policy.
// PUT /api/admin/policy
func (h *AdminHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.policies.SetGlobalPolicy(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetUserPolicy returns the effective policy for one user.
// GET /api/admin/users/{id}/policy
func (h *AdminHandler) GetUserPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.GetUserPolicy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutUserPolicy writes a per-user policy override.
// PUT /api/admin/users/{id}/policy
func (h *AdminHandler) PutUserPolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.policies.SetUserPolicy(r.Context(), r.PathValue("id"), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteUserPolicy removes a per-user override so the user falls back to the
// global default.
// DELETE /api/admin/users/{id}/policy
func (h *AdminHandler) DeleteUserPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.ClearUserPolicy(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// forceResultRequest is the body for ForceResult.
type forceResultRequest struct {
	Outcome domain.Outcome `json:"outcome"`
}

// ForceResult settles an active trade immediately with the given outcome.
// POST /api/admin/flash-trade/{id}/result
func (h *AdminHandler) ForceResult(w http.ResponseWriter, r *http.Request) {
	var req forceResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be 'win' or 'lose'")
		return
	}

	res, err := h.policies.ForceTradeResult(r.Context(), r.PathValue("id"), req.Outcome)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: force result failed",
			slog.String("trade_id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// adjustBalanceRequest is the body for AdjustBalance. Amount may be
// negative for debits.
type adjustBalanceRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// AdjustBalance applies an operator credit or debit to a user's balance.
// POST /api/admin/users/{id}/balance
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be non-zero")
		return
	}

	newBalance, err := h.policies.AdjustBalance(r.Context(), r.PathValue("id"), req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": newBalance})
}
