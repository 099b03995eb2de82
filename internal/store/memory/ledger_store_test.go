package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
)

func newTrade(userID string, stake float64) domain.FlashTrade {
	now := time.Now().UTC()
	return domain.FlashTrade{
		ID:              uuid.New().String(),
		UserID:          userID,
		Pair:            "BTC/USDT",
		Stake:           stake,
		Direction:       domain.DirectionUp,
		DurationSeconds: 30,
		EntryPrice:      65000,
		CreatedAt:       now,
		ExpiresAt:       now.Add(30 * time.Second),
	}
}

func TestEscrow_DebitsBalanceAndCreatesActiveTrade(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 100)

	trade, err := s.Escrow(ctx, newTrade("u1", 40))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeActive, trade.State)

	balance, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, balance)
}

func TestEscrow_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 30)

	_, err := s.Escrow(ctx, newTrade("u1", 40))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, 30.0, balance)
}

func TestEscrow_UnknownUser(t *testing.T) {
	s := NewLedgerStore()
	_, err := s.Escrow(context.Background(), newTrade("ghost", 10))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestEscrow_ConcurrentCallsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 100)

	// 10 concurrent escrows of 40 against a balance of 100: at most 2 can win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Escrow(ctx, newTrade("u1", 40)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	balance, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, 20.0, balance)
}

func TestSettle_WinCreditsStakePlusProfit(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 100)

	trade, err := s.Escrow(ctx, newTrade("u1", 40))
	require.NoError(t, err)

	res, err := s.Settle(ctx, trade.ID, domain.OutcomeWin, 34, 65100)
	require.NoError(t, err)
	assert.Equal(t, 134.0, res.NewBalance)
	assert.Equal(t, domain.TradeSettled, res.Trade.State)
	require.NotNil(t, res.Trade.Outcome)
	assert.Equal(t, domain.OutcomeWin, *res.Trade.Outcome)
	assert.NotNil(t, res.Trade.SettledAt)
}

func TestSettle_LossForfeitsStake(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 100)

	trade, err := s.Escrow(ctx, newTrade("u1", 40))
	require.NoError(t, err)

	res, err := s.Settle(ctx, trade.ID, domain.OutcomeLose, -40, 64900)
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.NewBalance)
}

func TestSettle_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 100)

	trade, err := s.Escrow(ctx, newTrade("u1", 40))
	require.NoError(t, err)

	_, err = s.Settle(ctx, trade.ID, domain.OutcomeWin, 34, 0)
	require.NoError(t, err)

	// Second settlement is a no-op, not a double credit.
	_, err = s.Settle(ctx, trade.ID, domain.OutcomeWin, 34, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	balance, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, 134.0, balance)
}

func TestSettle_UnknownTrade(t *testing.T) {
	s := NewLedgerStore()
	_, err := s.Settle(context.Background(), "missing", domain.OutcomeWin, 0, 0)
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestBalanceConservation(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 1000)

	// Escrow five 100-stake trades, settle three (two wins of 50, one loss)
	// and leave two active.
	var ids []string
	for i := 0; i < 5; i++ {
		trade, err := s.Escrow(ctx, newTrade("u1", 100))
		require.NoError(t, err)
		ids = append(ids, trade.ID)
	}

	_, err := s.Settle(ctx, ids[0], domain.OutcomeWin, 50, 0)
	require.NoError(t, err)
	_, err = s.Settle(ctx, ids[1], domain.OutcomeWin, 50, 0)
	require.NoError(t, err)
	_, err = s.Settle(ctx, ids[2], domain.OutcomeLose, -100, 0)
	require.NoError(t, err)

	// 1000 - 2*100 (still escrowed) - 100 (lost) + 2*50 (win profit) = 700.
	balance, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, 700.0, balance)

	active, _ := s.ListActiveByUser(ctx, "u1")
	assert.Len(t, active, 2)
}

func TestHistory_NewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 1000)

	for i := 0; i < 5; i++ {
		tr := newTrade("u1", 10)
		tr.CreatedAt = tr.CreatedAt.Add(time.Duration(i) * time.Second)
		_, err := s.Escrow(ctx, tr)
		require.NoError(t, err)
	}

	page, err := s.History(ctx, "u1", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := s.History(ctx, "u1", domain.ListOpts{Limit: 10, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	empty, err := s.History(ctx, "u1", domain.ListOpts{Limit: 10, Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAdjustBalance(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 50)

	after, err := s.AdjustBalance(ctx, "u1", 25, "promo credit")
	require.NoError(t, err)
	assert.Equal(t, 75.0, after)

	_, err = s.AdjustBalance(ctx, "u1", -100, "clawback")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	txs, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxAdminCredit, txs[0].Type)
	assert.Equal(t, 50.0, txs[0].BalanceBefore)
	assert.Equal(t, 75.0, txs[0].BalanceAfter)
}

func TestListByUser_NewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 1000)

	for i := 0; i < 5; i++ {
		_, err := s.AdjustBalance(ctx, "u1", float64(i+1), "promo credit")
		require.NoError(t, err)
	}

	page, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 5.0, page[0].Amount)
	assert.Equal(t, 4.0, page[1].Amount)

	rest, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 10, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, 3.0, rest[0].Amount)

	empty, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 10, Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestArchivalQueries(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	s.SeedUser("u1", 1000)

	trade, err := s.Escrow(ctx, newTrade("u1", 10))
	require.NoError(t, err)
	_, err = s.Settle(ctx, trade.ID, domain.OutcomeLose, -10, 0)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(time.Minute)
	old, err := s.ListSettledBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, old, 1)

	n, err := s.DeleteSettledBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetTrade(ctx, trade.ID)
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}
