package service

import (
	"context"
	"log/slog"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// Settler is the slice of the settlement scheduler the policy service needs:
// settling a trade ahead of its timer with an optional forced outcome.
type Settler interface {
	SettleNow(ctx context.Context, tradeID string, forced *domain.Outcome) (domain.SettleResult, error)
}

// OperatorAlerter receives out-of-band alerts for operator actions.
type OperatorAlerter interface {
	PolicyChanged(ctx context.Context, scope string, p domain.Policy)
	BalanceAdjusted(ctx context.Context, userID string, amount, newBalance float64)
	ForcedResult(ctx context.Context, tradeID string, outcome domain.Outcome)
}

// PolicyService is the operator control surface: outcome policies, forced
// settlements, and manual balance adjustments. Authorization is enforced at
// the HTTP layer; every mutation here leaves a trace (transaction record or
// operator alert).
type PolicyService struct {
	policies domain.PolicyStore
	ledger   domain.LedgerStore
	settler  Settler
	alerter  OperatorAlerter
	logger   *slog.Logger
}

// NewPolicyService creates a PolicyService with all required dependencies.
func NewPolicyService(
	policies domain.PolicyStore,
	ledger domain.LedgerStore,
	settler Settler,
	alerter OperatorAlerter,
	logger *slog.Logger,
) *PolicyService {
	return &PolicyService{
		policies: policies,
		ledger:   ledger,
		settler:  settler,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "policy_service")),
	}
}

// GetGlobalPolicy returns the platform-wide default policy.
func (s *PolicyService) GetGlobalPolicy(ctx context.Context) (domain.Policy, error) {
	return s.policies.GetGlobal(ctx)
}

// SetGlobalPolicy validates and replaces the global default. Last writer
// wins; trades already in flight settle under whatever policy is current at
// their settlement instant.
func (s *PolicyService) SetGlobalPolicy(ctx context.Context, p domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.policies.SetGlobal(ctx, p); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "global policy updated",
		slog.Int("win_rate_bps", p.WinRateBps),
		slog.Bool("forced", p.ForcedOutcome != nil),
	)
	s.alerter.PolicyChanged(ctx, "global", p)
	return nil
}

// GetUserPolicy returns the effective policy for a user.
func (s *PolicyService) GetUserPolicy(ctx context.Context, userID string) (domain.Policy, error) {
	return s.policies.GetForUser(ctx, userID)
}

// SetUserPolicy validates and writes a per-user override.
func (s *PolicyService) SetUserPolicy(ctx context.Context, userID string, p domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.policies.SetForUser(ctx, userID, p); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user policy updated",
		slog.String("user_id", userID),
		slog.Int("win_rate_bps", p.WinRateBps),
	)
	s.alerter.PolicyChanged(ctx, userID, p)
	return nil
}

// ClearUserPolicy removes a per-user override so the user falls back to the
// global default.
func (s *PolicyService) ClearUserPolicy(ctx context.Context, userID string) error {
	return s.policies.ClearForUser(ctx, userID)
}

// ForceTradeResult settles an active trade immediately with the given
// outcome, bypassing both its timer and the probability draw. Settling an
// already settled trade returns domain.ErrAlreadySettled.
func (s *PolicyService) ForceTradeResult(ctx context.Context, tradeID string, outcome domain.Outcome) (domain.SettleResult, error) {
	if !outcome.Valid() {
		return domain.SettleResult{}, domain.ErrInvalidPolicy
	}
	res, err := s.settler.SettleNow(ctx, tradeID, &outcome)
	if err != nil {
		return domain.SettleResult{}, err
	}
	s.logger.InfoContext(ctx, "trade result forced",
		slog.String("trade_id", tradeID),
		slog.String("outcome", string(outcome)),
	)
	s.alerter.ForcedResult(ctx, tradeID, outcome)
	return res, nil
}

// AdjustBalance applies an operator credit or debit to a user's balance. A
// debit that would take the balance below zero fails with
// domain.ErrInsufficientBalance.
func (s *PolicyService) AdjustBalance(ctx context.Context, userID string, amount float64, reason string) (float64, error) {
	newBalance, err := s.ledger.AdjustBalance(ctx, userID, amount, reason)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "balance adjusted",
		slog.String("user_id", userID),
		slog.Float64("amount", amount),
		slog.Float64("new_balance", newBalance),
	)
	s.alerter.BalanceAdjusted(ctx, userID, amount, newBalance)
	return newBalance, nil
}
