package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/outcome"
	"github.com/cryptonex/flashtrade/internal/store/memory"
)

type capturingNotifier struct {
	mu      sync.Mutex
	results []domain.SettleResult
}

func (n *capturingNotifier) PublishTradeSettled(_ context.Context, res domain.SettleResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, res)
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

func alwaysWin() domain.Policy {
	return domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 8500, ProfitRateMaxBps: 8500}
}

func testScheduler(t *testing.T, policy domain.Policy) (*Scheduler, *memory.LedgerStore, *capturingNotifier) {
	t.Helper()
	ledger := memory.NewLedgerStore()
	policies := memory.NewPolicyStore(policy)
	resolver := outcome.NewResolver(rand.New(rand.NewSource(1)))
	notifier := &capturingNotifier{}
	s := New(ledger, policies, resolver, notifier, slog.Default())
	t.Cleanup(s.Stop)
	return s, ledger, notifier
}

func escrowTrade(t *testing.T, ledger *memory.LedgerStore, userID string, stake float64, expiresIn time.Duration) domain.FlashTrade {
	t.Helper()
	now := time.Now().UTC()
	trade, err := ledger.Escrow(context.Background(), domain.FlashTrade{
		ID:              uuid.New().String(),
		UserID:          userID,
		Pair:            "BTC/USDT",
		Stake:           stake,
		Direction:       domain.DirectionUp,
		DurationSeconds: 30,
		EntryPrice:      65000,
		CreatedAt:       now,
		ExpiresAt:       now.Add(expiresIn),
	})
	require.NoError(t, err)
	return trade
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestArm_SettlesAfterExpiry(t *testing.T) {
	s, ledger, notifier := testScheduler(t, alwaysWin())
	ledger.SeedUser("u1", 100)

	trade := escrowTrade(t, ledger, "u1", 40, 50*time.Millisecond)
	s.Arm(trade.ID, trade.ExpiresAt)

	waitFor(t, 2*time.Second, func() bool { return notifier.count() == 1 })

	balance, _ := ledger.GetBalance(context.Background(), "u1")
	assert.Equal(t, 134.0, balance) // 100 - 40 + 40 + 34

	settled, err := ledger.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSettled, settled.State)
	assert.Zero(t, s.Pending())
}

func TestArm_ZeroWinRateLoses(t *testing.T) {
	s, ledger, notifier := testScheduler(t, domain.Policy{WinRateBps: 0, ProfitRateMinBps: 8500, ProfitRateMaxBps: 8500})
	ledger.SeedUser("u1", 100)

	trade := escrowTrade(t, ledger, "u1", 40, 20*time.Millisecond)
	s.Arm(trade.ID, trade.ExpiresAt)

	waitFor(t, 2*time.Second, func() bool { return notifier.count() == 1 })

	balance, _ := ledger.GetBalance(context.Background(), "u1")
	assert.Equal(t, 60.0, balance) // 100 - 40 + 40 - 40
}

func TestRecover_SettlesExpiredTradesExactlyOnce(t *testing.T) {
	// Simulates a process restart at t+45s for a 30s trade: the trade is
	// still active in the store and past expiry.
	s, ledger, notifier := testScheduler(t, alwaysWin())
	ledger.SeedUser("u1", 100)
	trade := escrowTrade(t, ledger, "u1", 40, -15*time.Second)

	require.NoError(t, s.Recover(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return notifier.count() == 1 })

	// A second scan (another restart) must not settle again.
	require.NoError(t, s.Recover(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, notifier.count())

	balance, _ := ledger.GetBalance(context.Background(), "u1")
	assert.Equal(t, 134.0, balance)

	settled, _ := ledger.GetTrade(context.Background(), trade.ID)
	assert.Equal(t, domain.TradeSettled, settled.State)
}

func TestRecover_RearmsFutureTrades(t *testing.T) {
	s, ledger, notifier := testScheduler(t, alwaysWin())
	ledger.SeedUser("u1", 100)
	escrowTrade(t, ledger, "u1", 40, 60*time.Millisecond)

	require.NoError(t, s.Recover(context.Background()))
	assert.Equal(t, 1, s.Pending())

	waitFor(t, 2*time.Second, func() bool { return notifier.count() == 1 })
}

func TestExactlyOneOutcomeAcrossManyTrades(t *testing.T) {
	s, ledger, notifier := testScheduler(t, domain.Policy{WinRateBps: 5000, ProfitRateMinBps: 8000, ProfitRateMaxBps: 9000})
	ledger.SeedUser("u1", 10000)

	const n = 25
	for i := 0; i < n; i++ {
		trade := escrowTrade(t, ledger, "u1", 10, time.Duration(10+i)*time.Millisecond)
		s.Arm(trade.ID, trade.ExpiresAt)
	}

	waitFor(t, 5*time.Second, func() bool { return notifier.count() == n })

	active, _ := ledger.ListActive(context.Background())
	assert.Empty(t, active)

	history, _ := ledger.History(context.Background(), "u1", domain.ListOpts{Limit: n})
	require.Len(t, history, n)
	for _, tr := range history {
		assert.Equal(t, domain.TradeSettled, tr.State)
		require.NotNil(t, tr.Outcome)
		assert.True(t, tr.Outcome.Valid())
	}
}

func TestSettleNow_CancelsTimerAndSettlesImmediately(t *testing.T) {
	s, ledger, notifier := testScheduler(t, alwaysWin())
	ledger.SeedUser("u1", 100)

	trade := escrowTrade(t, ledger, "u1", 40, time.Hour)
	s.Arm(trade.ID, trade.ExpiresAt)
	require.Equal(t, 1, s.Pending())

	forced := domain.OutcomeLose
	res, err := s.SettleNow(context.Background(), trade.ID, &forced)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeLose, *res.Trade.Outcome)
	assert.Equal(t, 60.0, res.NewBalance)
	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, notifier.count())

	// Second override hits the idempotence guard.
	_, err = s.SettleNow(context.Background(), trade.ID, &forced)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestSettleNow_UnknownTrade(t *testing.T) {
	s, _, _ := testScheduler(t, alwaysWin())
	_, err := s.SettleNow(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestExitPriceFollowsOutcome(t *testing.T) {
	up := domain.FlashTrade{Direction: domain.DirectionUp, EntryPrice: 100}
	down := domain.FlashTrade{Direction: domain.DirectionDown, EntryPrice: 100}

	assert.Greater(t, exitPrice(up, domain.OutcomeWin), 100.0)
	assert.Less(t, exitPrice(up, domain.OutcomeLose), 100.0)
	assert.Less(t, exitPrice(down, domain.OutcomeWin), 100.0)
	assert.Greater(t, exitPrice(down, domain.OutcomeLose), 100.0)
}
