// Package notify turns settlement and activity results into wire events and
// fans them out. Delivery is a best-effort side channel: the ledger has
// already committed by the time anything here runs, and no failure in this
// package is ever escalated to the settlement path.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// Bus publishes formatted events on the signal bus. Connection hubs
// subscribe to the bus channels and route to live sockets; a user who is
// offline simply misses the push and sees the result in their history.
type Bus struct {
	signals domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time
}

// NewBus creates a Bus over the given signal bus.
func NewBus(signals domain.SignalBus, logger *slog.Logger) *Bus {
	return &Bus{
		signals: signals,
		logger:  logger.With(slog.String("component", "notify")),
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source for event envelopes.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

// PublishTradeSettled emits a trade_result event for the owning user and a
// trade_activity event for operators.
func (b *Bus) PublishTradeSettled(ctx context.Context, res domain.SettleResult) {
	t := res.Trade
	outcome := domain.OutcomeLose
	if t.Outcome != nil {
		outcome = *t.Outcome
	}

	b.publish(ctx, domain.ChannelTradeResults, domain.EventTradeResult, domain.TradeResultPayload{
		TradeID:    t.ID,
		UserID:     t.UserID,
		Outcome:    outcome,
		Profit:     t.Profit,
		ExitPrice:  t.ExitPrice,
		NewBalance: res.NewBalance,
	})

	b.publish(ctx, domain.ChannelTradeActivity, domain.EventTradeActivity, domain.TradeActivityPayload{
		TradeID:   t.ID,
		UserID:    t.UserID,
		Pair:      t.Pair,
		Direction: t.Direction,
		Stake:     t.Stake,
		Outcome:   t.Outcome,
		Profit:    t.Profit,
	})
}

// PublishTradeStarted emits a trade_activity event for operators when a new
// trade enters escrow.
func (b *Bus) PublishTradeStarted(ctx context.Context, t domain.FlashTrade) {
	b.publish(ctx, domain.ChannelTradeActivity, domain.EventTradeActivity, domain.TradeActivityPayload{
		TradeID:   t.ID,
		UserID:    t.UserID,
		Pair:      t.Pair,
		Direction: t.Direction,
		Stake:     t.Stake,
	})
}

// PublishPriceUpdate emits a price_update event from the simulated feed.
func (b *Bus) PublishPriceUpdate(ctx context.Context, p domain.PriceUpdatePayload) {
	b.publish(ctx, domain.ChannelPrices, domain.EventPriceUpdate, p)
}

func (b *Bus) publish(ctx context.Context, channel, eventType string, payload any) {
	evt, err := domain.NewEvent(eventType, payload, b.now())
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal event payload failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	data, err := evt.Marshal()
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := b.signals.Publish(ctx, channel, data); err != nil {
		// Notification is never a correctness dependency; log and move on.
		b.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}
