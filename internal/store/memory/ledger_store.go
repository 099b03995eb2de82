// Package memory implements the domain store interfaces with mutex-guarded
// in-process state. It mirrors the transactional semantics of the postgres
// implementations and backs the unit test suites and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// LedgerStore is an in-memory domain.LedgerStore. All operations take the
// store lock, so every escrow and settlement is atomic with respect to the
// balance it touches.
type LedgerStore struct {
	mu       sync.Mutex
	balances map[string]float64
	trades   map[string]domain.FlashTrade
	txs      []domain.Transaction
	nextTxID int64
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		balances: make(map[string]float64),
		trades:   make(map[string]domain.FlashTrade),
		nextTxID: 1,
	}
}

// SeedUser creates a user with the given starting balance. User provisioning
// is owned by the platform's account plumbing in production; the memory
// store exposes it directly for tests and local runs.
func (s *LedgerStore) SeedUser(userID string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *LedgerStore) appendTx(userID string, typ domain.TransactionType, amount, before, after float64, ref string) {
	s.txs = append(s.txs, domain.Transaction{
		ID:            s.nextTxID,
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     ref,
		CreatedAt:     time.Now().UTC(),
	})
	s.nextTxID++
}

// Escrow implements domain.LedgerStore.
func (s *LedgerStore) Escrow(ctx context.Context, trade domain.FlashTrade) (domain.FlashTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[trade.UserID]
	if !ok {
		return domain.FlashTrade{}, domain.ErrUserNotFound
	}
	if balance < trade.Stake {
		return domain.FlashTrade{}, domain.ErrInsufficientBalance
	}

	newBalance := balance - trade.Stake
	s.balances[trade.UserID] = newBalance

	trade.State = domain.TradeActive
	trade.Outcome = nil
	trade.SettledAt = nil
	s.trades[trade.ID] = trade

	s.appendTx(trade.UserID, domain.TxFlashTradeEscrow, trade.Stake, balance, newBalance, trade.ID)
	return trade, nil
}

// Settle implements domain.LedgerStore.
func (s *LedgerStore) Settle(ctx context.Context, tradeID string, outcome domain.Outcome, profit float64, exitPrice float64) (domain.SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[tradeID]
	if !ok {
		return domain.SettleResult{}, domain.ErrTradeNotFound
	}
	if trade.State != domain.TradeActive {
		return domain.SettleResult{}, domain.ErrAlreadySettled
	}

	now := time.Now().UTC()
	trade.State = domain.TradeSettled
	trade.Outcome = &outcome
	trade.Profit = profit
	trade.ExitPrice = exitPrice
	trade.SettledAt = &now

	before := s.balances[trade.UserID]
	after := before + trade.Stake + profit
	s.balances[trade.UserID] = after
	s.trades[tradeID] = trade

	typ := domain.TxFlashTradeWin
	if outcome == domain.OutcomeLose {
		typ = domain.TxFlashTradeLoss
	}
	s.appendTx(trade.UserID, typ, trade.Stake+profit, before, after, trade.ID)

	return domain.SettleResult{Trade: trade, NewBalance: after}, nil
}

// GetTrade implements domain.LedgerStore.
func (s *LedgerStore) GetTrade(ctx context.Context, tradeID string) (domain.FlashTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[tradeID]
	if !ok {
		return domain.FlashTrade{}, domain.ErrTradeNotFound
	}
	return trade, nil
}

// ListActive implements domain.LedgerStore.
func (s *LedgerStore) ListActive(ctx context.Context) ([]domain.FlashTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.FlashTrade
	for _, t := range s.trades {
		if t.State == domain.TradeActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListActiveByUser implements domain.LedgerStore.
func (s *LedgerStore) ListActiveByUser(ctx context.Context, userID string) ([]domain.FlashTrade, error) {
	all, _ := s.ListActive(ctx)
	var out []domain.FlashTrade
	for _, t := range all {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// History implements domain.LedgerStore.
func (s *LedgerStore) History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.FlashTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.FlashTrade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetBalance implements domain.LedgerStore.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	return balance, nil
}

// AdjustBalance implements domain.LedgerStore.
func (s *LedgerStore) AdjustBalance(ctx context.Context, userID string, amount float64, reference string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, ok := s.balances[userID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	after := before + amount
	if after < 0 {
		return 0, domain.ErrInsufficientBalance
	}
	s.balances[userID] = after

	typ := domain.TxAdminCredit
	if amount < 0 {
		typ = domain.TxAdminDebit
	}
	s.appendTx(userID, typ, amount, before, after, reference)
	return after, nil
}

// ListSettledBefore implements domain.LedgerStore.
func (s *LedgerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.FlashTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.FlashTrade
	for _, t := range s.trades {
		if t.State == domain.TradeSettled && t.SettledAt != nil && t.SettledAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	return out, nil
}

// DeleteSettledBefore implements domain.LedgerStore.
func (s *LedgerStore) DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.trades {
		if t.State == domain.TradeSettled && t.SettledAt != nil && t.SettledAt.Before(before) {
			delete(s.trades, id)
			n++
		}
	}
	return n, nil
}

// ListByUser returns a user's transaction records newest first.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore      = (*LedgerStore)(nil)
	_ domain.TransactionStore = (*LedgerStore)(nil)
)
