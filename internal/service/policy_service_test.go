package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/store/memory"
)

type fakeSettler struct {
	lastTradeID string
	lastForced  *domain.Outcome
	result      domain.SettleResult
	err         error
}

func (f *fakeSettler) SettleNow(ctx context.Context, tradeID string, forced *domain.Outcome) (domain.SettleResult, error) {
	f.lastTradeID = tradeID
	f.lastForced = forced
	return f.result, f.err
}

type recordedAlerts struct {
	policyScopes []string
	adjustments  []string
	forced       []string
}

func (r *recordedAlerts) PolicyChanged(ctx context.Context, scope string, p domain.Policy) {
	r.policyScopes = append(r.policyScopes, scope)
}

func (r *recordedAlerts) BalanceAdjusted(ctx context.Context, userID string, amount, newBalance float64) {
	r.adjustments = append(r.adjustments, userID)
}

func (r *recordedAlerts) ForcedResult(ctx context.Context, tradeID string, outcome domain.Outcome) {
	r.forced = append(r.forced, tradeID)
}

func testPolicyService(t *testing.T) (*PolicyService, *memory.LedgerStore, *memory.PolicyStore, *fakeSettler, *recordedAlerts) {
	t.Helper()

	ledger := memory.NewLedgerStore()
	policies := memory.NewPolicyStore(domain.Policy{
		WinRateBps:       5000,
		ProfitRateMinBps: 7000,
		ProfitRateMaxBps: 9500,
	})
	settler := &fakeSettler{}
	alerts := &recordedAlerts{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewPolicyService(policies, ledger, settler, alerts, logger), ledger, policies, settler, alerts
}

func TestSetGlobalPolicy(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, alerts := testPolicyService(t)

	p := domain.Policy{WinRateBps: 3000, ProfitRateMinBps: 8000, ProfitRateMaxBps: 8000}
	require.NoError(t, svc.SetGlobalPolicy(ctx, p))

	got, err := svc.GetGlobalPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3000, got.WinRateBps)
	assert.Equal(t, []string{"global"}, alerts.policyScopes)
}

func TestSetGlobalPolicyRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, alerts := testPolicyService(t)

	err := svc.SetGlobalPolicy(ctx, domain.Policy{WinRateBps: 12000, ProfitRateMinBps: 8000, ProfitRateMaxBps: 8000})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)

	// The stored policy is untouched and no alert fired.
	got, err := svc.GetGlobalPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5000, got.WinRateBps)
	assert.Empty(t, alerts.policyScopes)
}

func TestUserPolicyOverrideAndClear(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := testPolicyService(t)

	override := domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 9000, ProfitRateMaxBps: 9000}
	require.NoError(t, svc.SetUserPolicy(ctx, "u-1", override))

	got, err := svc.GetUserPolicy(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 10000, got.WinRateBps)

	// Other users still see the global default.
	other, err := svc.GetUserPolicy(ctx, "u-2")
	require.NoError(t, err)
	assert.Equal(t, 5000, other.WinRateBps)

	require.NoError(t, svc.ClearUserPolicy(ctx, "u-1"))
	cleared, err := svc.GetUserPolicy(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 5000, cleared.WinRateBps)
}

func TestForceTradeResult(t *testing.T) {
	ctx := context.Background()
	svc, _, _, settler, alerts := testPolicyService(t)

	win := domain.OutcomeWin
	settler.result = domain.SettleResult{NewBalance: 134}

	res, err := svc.ForceTradeResult(ctx, "t-1", win)
	require.NoError(t, err)
	assert.Equal(t, 134.0, res.NewBalance)
	assert.Equal(t, "t-1", settler.lastTradeID)
	require.NotNil(t, settler.lastForced)
	assert.Equal(t, win, *settler.lastForced)
	assert.Equal(t, []string{"t-1"}, alerts.forced)
}

func TestForceTradeResultInvalidOutcome(t *testing.T) {
	ctx := context.Background()
	svc, _, _, settler, _ := testPolicyService(t)

	_, err := svc.ForceTradeResult(ctx, "t-1", "draw")
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
	assert.Empty(t, settler.lastTradeID)
}

func TestForceTradeResultAlreadySettled(t *testing.T) {
	ctx := context.Background()
	svc, _, _, settler, alerts := testPolicyService(t)

	settler.err = domain.ErrAlreadySettled
	_, err := svc.ForceTradeResult(ctx, "t-1", domain.OutcomeLose)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Empty(t, alerts.forced)
}

func TestAdjustBalance(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _, _, alerts := testPolicyService(t)
	ledger.SeedUser("u-1", 50)

	newBalance, err := svc.AdjustBalance(ctx, "u-1", 25, "promo credit")
	require.NoError(t, err)
	assert.Equal(t, 75.0, newBalance)

	// Debit below zero is rejected.
	_, err = svc.AdjustBalance(ctx, "u-1", -100, "clawback")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, []string{"u-1"}, alerts.adjustments)
}
