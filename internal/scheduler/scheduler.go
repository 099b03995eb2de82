// Package scheduler arms one deferred settlement per active flash trade and
// guarantees each trade is logically settled exactly once, across timer
// retries and process restarts. Firing may repeat; the ledger's idempotent
// Settle absorbs duplicates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/outcome"
)

const (
	// settleTimeout bounds a single settlement attempt against the ledger.
	settleTimeout = 10 * time.Second

	// retryInterval is the delay before re-arming after a transient failure
	// (ledger unreachable, policy read failed). Retries continue until the
	// trade reaches a terminal state; a trade must never stay active past
	// its expiry for longer than a small bounded delay.
	retryInterval = 5 * time.Second

	// lockTTL covers the settlement critical section when several processes
	// share the ledger store.
	lockTTL = 30 * time.Second
)

// Notifier receives settlement results for fan-out to connected clients.
// Delivery is best-effort and must never block settlement.
type Notifier interface {
	PublishTradeSettled(ctx context.Context, res domain.SettleResult)
}

// Scheduler owns the per-trade settlement timers.
type Scheduler struct {
	ledger   domain.LedgerStore
	policies domain.PolicyStore
	resolver *outcome.Resolver
	notifier Notifier
	locks    domain.LockManager // optional; nil in single-process deployments
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	timers  map[string]*time.Timer
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLockManager enables a cross-process settlement lock. When another
// process already holds a trade's lock the local firing is skipped; the
// holder settles it.
func WithLockManager(locks domain.LockManager) Option {
	return func(s *Scheduler) { s.locks = locks }
}

// New creates a Scheduler. Call Run to start it; Arm may be called before
// Run for trades created during startup.
func New(ledger domain.LedgerStore, policies domain.PolicyStore, resolver *outcome.Resolver, notifier Notifier, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:   ledger,
		policies: policies,
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      time.Now,
		baseCtx:  context.Background(),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs the startup reconciliation scan and then blocks until the
// context is cancelled, at which point all pending timers are stopped.
// Trades left active at shutdown are picked up by the next Run's scan.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.stopped = false
	s.mu.Unlock()

	if err := s.Recover(ctx); err != nil {
		return fmt.Errorf("scheduler: recover: %w", err)
	}

	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// Recover scans every active trade: past-expiry trades settle immediately,
// future ones are re-armed for their remaining duration.
func (s *Scheduler) Recover(ctx context.Context) error {
	trades, err := s.ledger.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active trades: %w", err)
	}

	now := s.now()
	expired := 0
	for _, t := range trades {
		if t.Expired(now) {
			expired++
			go s.fire(t.ID)
		} else {
			s.Arm(t.ID, t.ExpiresAt)
		}
	}

	s.logger.Info("reconciliation scan complete",
		slog.Int("active", len(trades)),
		slog.Int("expired", expired),
	)
	return nil
}

// Arm schedules settlement of the given trade at expiresAt. Arming an
// already armed trade resets its timer.
func (s *Scheduler) Arm(tradeID string, expiresAt time.Time) {
	delay := expiresAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[tradeID]; ok {
		prev.Stop()
	}
	s.timers[tradeID] = time.AfterFunc(delay, func() { s.fire(tradeID) })
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending timers. In-flight firings finish on their own
// detached context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// SettleNow is the operator early-settlement override: it cancels the
// pending timer and settles immediately through the same idempotent ledger
// path. A non-nil forced outcome overrides the effective policy's draw.
func (s *Scheduler) SettleNow(ctx context.Context, tradeID string, forced *domain.Outcome) (domain.SettleResult, error) {
	s.mu.Lock()
	if t, ok := s.timers[tradeID]; ok {
		t.Stop()
		delete(s.timers, tradeID)
	}
	s.mu.Unlock()

	trade, err := s.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		return domain.SettleResult{}, err
	}
	if trade.State != domain.TradeActive {
		return domain.SettleResult{}, domain.ErrAlreadySettled
	}

	policy, err := s.policies.GetForUser(ctx, trade.UserID)
	if err != nil {
		return domain.SettleResult{}, fmt.Errorf("scheduler: read policy: %w", err)
	}
	if forced != nil {
		policy.ForcedOutcome = forced
	}

	res, err := s.settle(ctx, trade, policy)
	if err != nil {
		return domain.SettleResult{}, err
	}
	s.notifier.PublishTradeSettled(ctx, res)
	return res, nil
}

// fire resolves and settles a single expired trade. It runs on a context
// detached from Run's so that a settlement already in flight survives
// shutdown; unfinished work is recovered by the next startup scan.
func (s *Scheduler) fire(tradeID string) {
	s.mu.Lock()
	delete(s.timers, tradeID)
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), settleTimeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+tradeID, lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			// Another process is settling this trade.
			s.logger.Debug("settlement lock held elsewhere", slog.String("trade_id", tradeID))
			return
		}
		if err != nil {
			s.logger.Warn("settlement lock unavailable, proceeding unlocked",
				slog.String("trade_id", tradeID),
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	trade, err := s.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, domain.ErrTradeNotFound) {
			s.logger.Warn("armed trade no longer exists", slog.String("trade_id", tradeID))
			return
		}
		s.retry(tradeID, err)
		return
	}
	if trade.State != domain.TradeActive {
		s.logger.Debug("trade already settled", slog.String("trade_id", tradeID))
		return
	}

	// Policy is read at settlement time, not locked in at creation. An
	// operator change while the trade was active affects its outcome.
	policy, err := s.policies.GetForUser(ctx, trade.UserID)
	if err != nil {
		s.retry(tradeID, err)
		return
	}

	res, err := s.settle(ctx, trade, policy)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			// Duplicate firing (restart race); the first settlement won.
			s.logger.Debug("duplicate settlement absorbed", slog.String("trade_id", tradeID))
			return
		}
		s.retry(tradeID, err)
		return
	}

	s.notifier.PublishTradeSettled(ctx, res)
}

// settle resolves the outcome and applies it through the ledger.
func (s *Scheduler) settle(ctx context.Context, trade domain.FlashTrade, policy domain.Policy) (domain.SettleResult, error) {
	out, profit := s.resolver.Resolve(trade.Stake, policy)
	res, err := s.ledger.Settle(ctx, trade.ID, out, profit, exitPrice(trade, out))
	if err != nil {
		return domain.SettleResult{}, err
	}

	s.logger.Info("trade settled",
		slog.String("trade_id", trade.ID),
		slog.String("user_id", trade.UserID),
		slog.String("outcome", string(out)),
		slog.Float64("profit", profit),
	)
	return res, nil
}

// retry re-arms the trade after a transient failure.
func (s *Scheduler) retry(tradeID string, err error) {
	s.logger.Error("settlement attempt failed, retrying",
		slog.String("trade_id", tradeID),
		slog.Duration("retry_in", retryInterval),
		slog.String("error", err.Error()),
	)
	s.Arm(tradeID, s.now().Add(retryInterval))
}

// exitPrice fabricates a closing price consistent with the outcome: the
// price is cosmetic and does not determine settlement.
func exitPrice(trade domain.FlashTrade, out domain.Outcome) float64 {
	drift := 0.005
	up := trade.Direction == domain.DirectionUp
	if (out == domain.OutcomeWin) != up {
		drift = -drift
	}
	return trade.EntryPrice * (1 + drift)
}
