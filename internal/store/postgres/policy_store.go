package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// globalPolicyScope is the row key for the platform-wide default policy.
// Per-user overrides use the user ID as scope.
const globalPolicyScope = "global"

// PolicyStore implements domain.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool     *pgxpool.Pool
	fallback domain.Policy
}

// NewPolicyStore creates a PolicyStore. fallback is returned as the global
// policy until an operator writes one.
func NewPolicyStore(pool *pgxpool.Pool, fallback domain.Policy) *PolicyStore {
	return &PolicyStore{pool: pool, fallback: fallback}
}

func (s *PolicyStore) get(ctx context.Context, scope string) (domain.Policy, error) {
	var (
		p      domain.Policy
		forced *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT win_rate_bps, profit_rate_min_bps, profit_rate_max_bps, forced_outcome, updated_at
		FROM outcome_policies WHERE scope = $1`, scope,
	).Scan(&p.WinRateBps, &p.ProfitRateMinBps, &p.ProfitRateMaxBps, &forced, &p.UpdatedAt)
	if err != nil {
		return domain.Policy{}, err
	}
	if forced != nil {
		o := domain.Outcome(*forced)
		p.ForcedOutcome = &o
	}
	return p, nil
}

func (s *PolicyStore) set(ctx context.Context, scope string, p domain.Policy) error {
	var forced *string
	if p.ForcedOutcome != nil {
		f := string(*p.ForcedOutcome)
		forced = &f
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outcome_policies (scope, win_rate_bps, profit_rate_min_bps, profit_rate_max_bps, forced_outcome, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			win_rate_bps = EXCLUDED.win_rate_bps,
			profit_rate_min_bps = EXCLUDED.profit_rate_min_bps,
			profit_rate_max_bps = EXCLUDED.profit_rate_max_bps,
			forced_outcome = EXCLUDED.forced_outcome,
			updated_at = NOW()`,
		scope, p.WinRateBps, p.ProfitRateMinBps, p.ProfitRateMaxBps, forced,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert policy %s: %w", scope, err)
	}
	return nil
}

// GetGlobal implements domain.PolicyStore.
func (s *PolicyStore) GetGlobal(ctx context.Context) (domain.Policy, error) {
	p, err := s.get(ctx, globalPolicyScope)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return domain.Policy{}, fmt.Errorf("postgres: get global policy: %w", err)
	}
	return p, nil
}

// SetGlobal implements domain.PolicyStore.
func (s *PolicyStore) SetGlobal(ctx context.Context, p domain.Policy) error {
	return s.set(ctx, globalPolicyScope, p)
}

// GetForUser implements domain.PolicyStore. Falls back to the global default
// when the user has no override.
func (s *PolicyStore) GetForUser(ctx context.Context, userID string) (domain.Policy, error) {
	p, err := s.get(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetGlobal(ctx)
	}
	if err != nil {
		return domain.Policy{}, fmt.Errorf("postgres: get policy for user: %w", err)
	}
	return p, nil
}

// SetForUser implements domain.PolicyStore.
func (s *PolicyStore) SetForUser(ctx context.Context, userID string, p domain.Policy) error {
	return s.set(ctx, userID, p)
}

// ClearForUser implements domain.PolicyStore.
func (s *PolicyStore) ClearForUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM outcome_policies WHERE scope = $1", userID)
	if err != nil {
		return fmt.Errorf("postgres: clear policy for user: %w", err)
	}
	return nil
}

var _ domain.PolicyStore = (*PolicyStore)(nil)
