package domain

import (
	"fmt"
	"time"
)

// BasisPointsMax is the basis-point representation of 100%.
const BasisPointsMax = 10000

// Policy controls how a flash trade's outcome is drawn at settlement time.
// Policies are operator-written, last-writer-wins, and read once when the
// trade settles, not when it is created.
type Policy struct {
	// WinRateBps is the probability of a win in basis points, 0..10000.
	WinRateBps int `json:"win_rate_bps" toml:"win_rate_bps"`

	// ProfitRateMinBps and ProfitRateMaxBps bound the profit rate applied to
	// the stake on a win, drawn uniformly from [min, max].
	ProfitRateMinBps int `json:"profit_rate_min_bps" toml:"profit_rate_min_bps"`
	ProfitRateMaxBps int `json:"profit_rate_max_bps" toml:"profit_rate_max_bps"`

	// ForcedOutcome, when set, bypasses the probabilistic draw entirely.
	ForcedOutcome *Outcome `json:"forced_outcome,omitempty" toml:"forced_outcome"`

	UpdatedAt time.Time `json:"updated_at,omitempty" toml:"-"`
}

// Validate checks policy bounds. Invalid policies are a configuration error
// rejected at write time; the settlement path never validates.
func (p Policy) Validate() error {
	if p.WinRateBps < 0 || p.WinRateBps > BasisPointsMax {
		return fmt.Errorf("%w: win_rate_bps %d out of [0,%d]", ErrInvalidPolicy, p.WinRateBps, BasisPointsMax)
	}
	if p.ProfitRateMinBps < 0 {
		return fmt.Errorf("%w: profit_rate_min_bps %d is negative", ErrInvalidPolicy, p.ProfitRateMinBps)
	}
	if p.ProfitRateMinBps > p.ProfitRateMaxBps {
		return fmt.Errorf("%w: profit_rate_min_bps %d > profit_rate_max_bps %d",
			ErrInvalidPolicy, p.ProfitRateMinBps, p.ProfitRateMaxBps)
	}
	if p.ForcedOutcome != nil && !p.ForcedOutcome.Valid() {
		return fmt.Errorf("%w: forced_outcome %q", ErrInvalidPolicy, *p.ForcedOutcome)
	}
	return nil
}
