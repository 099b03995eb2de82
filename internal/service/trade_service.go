// Package service orchestrates flash trades between the HTTP layer and the
// ledger, scheduler, and notification plumbing.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// TradeScheduler is the slice of the settlement scheduler the trade service
// needs: arming a timer for a freshly escrowed trade.
type TradeScheduler interface {
	Arm(tradeID string, expiresAt time.Time)
}

// ActivityPublisher pushes trade lifecycle events onto the notification bus.
type ActivityPublisher interface {
	PublishTradeStarted(ctx context.Context, t domain.FlashTrade)
}

// TradeSettings are the operator-configured validation bounds for new
// trades.
type TradeSettings struct {
	Pairs      []string
	Durations  []int
	MinStake   float64
	MaxStake   float64
	RateLimit  int
	RateWindow time.Duration
}

// CreateTradeRequest is the user-facing request to open a flash trade.
type CreateTradeRequest struct {
	Pair            string           `json:"pair"`
	Stake           float64          `json:"stake"`
	Direction       domain.Direction `json:"direction"`
	DurationSeconds int              `json:"duration_seconds"`
}

// TradeService validates and opens flash trades and serves trade reads. All
// validation failures are synchronous; once CreateTrade returns, the stake
// is escrowed and the settlement timer is armed.
type TradeService struct {
	ledger    domain.LedgerStore
	txs       domain.TransactionStore
	prices    domain.PriceCache
	limiter   domain.RateLimiter
	scheduler TradeScheduler
	activity  ActivityPublisher
	settings  TradeSettings
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	ledger domain.LedgerStore,
	txs domain.TransactionStore,
	prices domain.PriceCache,
	limiter domain.RateLimiter,
	scheduler TradeScheduler,
	activity ActivityPublisher,
	settings TradeSettings,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		ledger:    ledger,
		txs:       txs,
		prices:    prices,
		limiter:   limiter,
		scheduler: scheduler,
		activity:  activity,
		settings:  settings,
		logger:    logger.With(slog.String("component", "trade_service")),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *TradeService) WithClock(now func() time.Time) *TradeService {
	s.now = now
	return s
}

// Settings returns the validation bounds for clients.
func (s *TradeService) Settings() TradeSettings {
	return s.settings
}

// CreateTrade validates the request, escrows the stake, arms the settlement
// timer, and announces the trade to operators. Any validation or escrow
// failure leaves the ledger untouched.
func (s *TradeService) CreateTrade(ctx context.Context, userID string, req CreateTradeRequest) (domain.FlashTrade, error) {
	if !req.Direction.Valid() {
		return domain.FlashTrade{}, domain.ErrInvalidDirection
	}
	if !slices.Contains(s.settings.Durations, req.DurationSeconds) {
		return domain.FlashTrade{}, domain.ErrInvalidDuration
	}
	if req.Stake < s.settings.MinStake || req.Stake > s.settings.MaxStake {
		return domain.FlashTrade{}, domain.ErrStakeOutOfRange
	}
	if len(s.settings.Pairs) > 0 && !slices.Contains(s.settings.Pairs, req.Pair) {
		return domain.FlashTrade{}, domain.ErrPriceUnavailable
	}

	if s.limiter != nil && s.settings.RateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "trade:"+userID, s.settings.RateLimit, s.settings.RateWindow)
		if err != nil {
			return domain.FlashTrade{}, fmt.Errorf("trade_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.FlashTrade{}, domain.ErrRateLimited
		}
	}

	// Entry price is cosmetic; the outcome never depends on it. A missing
	// price still rejects the trade so the UI never shows an empty chart.
	entryPrice, _, err := s.prices.GetPrice(ctx, req.Pair)
	if err != nil {
		return domain.FlashTrade{}, fmt.Errorf("trade_service: entry price for %s: %w", req.Pair, err)
	}

	now := s.now().UTC()
	trade := domain.FlashTrade{
		ID:              uuid.New().String(),
		UserID:          userID,
		Pair:            req.Pair,
		Stake:           req.Stake,
		Direction:       req.Direction,
		DurationSeconds: req.DurationSeconds,
		EntryPrice:      entryPrice,
		State:           domain.TradeActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(req.DurationSeconds) * time.Second),
	}

	trade, err = s.ledger.Escrow(ctx, trade)
	if err != nil {
		return domain.FlashTrade{}, err
	}

	s.scheduler.Arm(trade.ID, trade.ExpiresAt)
	s.activity.PublishTradeStarted(ctx, trade)

	s.logger.InfoContext(ctx, "trade opened",
		slog.String("trade_id", trade.ID),
		slog.String("user_id", userID),
		slog.String("pair", trade.Pair),
		slog.Float64("stake", trade.Stake),
		slog.Int("duration_seconds", trade.DurationSeconds),
	)
	return trade, nil
}

// GetTrade returns a trade by ID, restricted to its owner.
func (s *TradeService) GetTrade(ctx context.Context, userID, tradeID string) (domain.FlashTrade, error) {
	trade, err := s.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		return domain.FlashTrade{}, err
	}
	if trade.UserID != userID {
		return domain.FlashTrade{}, domain.ErrTradeNotFound
	}
	return trade, nil
}

// ListActive returns the user's open trades, oldest first.
func (s *TradeService) ListActive(ctx context.Context, userID string) ([]domain.FlashTrade, error) {
	return s.ledger.ListActiveByUser(ctx, userID)
}

// ListHistory returns the user's trades newest first.
func (s *TradeService) ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.FlashTrade, error) {
	return s.ledger.History(ctx, userID, opts)
}

// GetBalance returns the user's current balance.
func (s *TradeService) GetBalance(ctx context.Context, userID string) (float64, error) {
	return s.ledger.GetBalance(ctx, userID)
}

// ListTransactions returns the user's balance-mutation records newest first.
func (s *TradeService) ListTransactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	return s.txs.ListByUser(ctx, userID, opts)
}
