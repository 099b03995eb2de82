package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// Operator alert kinds. Used to filter which out-of-band alerts get
// delivered to chat channels.
const (
	AlertPolicyChanged   = "policy_changed"
	AlertBalanceAdjusted = "balance_adjusted"
	AlertForcedResult    = "forced_result"
	AlertLargeStake      = "large_stake"
)

// Sender delivers an operator alert over one external channel.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier for the channel (e.g. "telegram").
	Name() string
}

// Alerter pushes operator alerts to chat channels (Telegram, Discord) for
// actions that should leave a trace outside the dashboard: policy edits,
// manual balance adjustments, forced trade results. Alerts are filtered by
// kind; an empty filter allows everything.
type Alerter struct {
	senders []Sender
	kinds   map[string]bool
	logger  *slog.Logger
}

// NewAlerter creates an Alerter delivering to the given senders. Only alerts
// whose kind appears in kinds are forwarded; an empty kinds slice allows all.
func NewAlerter(senders []Sender, kinds []string, logger *slog.Logger) *Alerter {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[strings.TrimSpace(k)] = true
	}
	return &Alerter{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// PolicyChanged alerts that an operator replaced an outcome policy. scope is
// "global" or the user ID of a per-user override.
func (a *Alerter) PolicyChanged(ctx context.Context, scope string, p domain.Policy) {
	forced := "none"
	if p.ForcedOutcome != nil {
		forced = string(*p.ForcedOutcome)
	}
	a.alert(ctx, AlertPolicyChanged, "Outcome policy changed",
		fmt.Sprintf("scope=%s win_rate=%dbps profit=%d-%dbps forced=%s",
			scope, p.WinRateBps, p.ProfitRateMinBps, p.ProfitRateMaxBps, forced))
}

// BalanceAdjusted alerts that an operator credited or debited a user balance.
func (a *Alerter) BalanceAdjusted(ctx context.Context, userID string, amount, newBalance float64) {
	a.alert(ctx, AlertBalanceAdjusted, "Balance adjusted",
		fmt.Sprintf("user=%s amount=%+.2f new_balance=%.2f", userID, amount, newBalance))
}

// ForcedResult alerts that an operator settled a trade early with a forced
// outcome.
func (a *Alerter) ForcedResult(ctx context.Context, tradeID string, outcome domain.Outcome) {
	a.alert(ctx, AlertForcedResult, "Trade result forced",
		fmt.Sprintf("trade=%s outcome=%s", tradeID, outcome))
}

func (a *Alerter) alert(ctx context.Context, kind, title, message string) {
	if len(a.kinds) > 0 && !a.kinds[kind] {
		return
	}
	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}
}
