// Package outcome decides win/lose and profit for expiring flash trades.
// Resolution is a pure draw against the effective policy; it performs no
// I/O and never fails for a policy that passed validation at write time.
package outcome

import (
	"math/rand"
	"sync"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// Rand is the subset of math/rand used by the resolver. Injectable so tests
// can pin the draw.
type Rand interface {
	// Intn returns a uniform int in [0, n).
	Intn(n int) int
	// Float64 returns a uniform float64 in [0.0, 1.0).
	Float64() float64
}

// Resolver draws trade outcomes from a random source. Safe for concurrent
// use: trades expire on independent timer goroutines, and math/rand sources
// are not, so the draws are serialized under a mutex.
type Resolver struct {
	mu  sync.Mutex
	rng Rand
}

// NewResolver creates a Resolver around the given random source. Pass
// rand.New(rand.NewSource(seed)) for a deterministic resolver.
func NewResolver(rng Rand) *Resolver {
	return &Resolver{rng: rng}
}

// NewDefaultResolver creates a Resolver seeded from the global source.
func NewDefaultResolver() *Resolver {
	return &Resolver{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Resolve decides the outcome and profit for a stake under the given
// policy. A forced outcome bypasses the probabilistic draw; otherwise the
// trade wins iff a uniform draw in [0,10000) lands below WinRateBps.
// Profit on a win is stake times a rate drawn uniformly from the policy's
// profit-rate range; on a loss the whole stake is forfeited.
func (r *Resolver) Resolve(stake float64, p domain.Policy) (domain.Outcome, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	won := false
	if p.ForcedOutcome != nil {
		won = *p.ForcedOutcome == domain.OutcomeWin
	} else {
		won = r.rng.Intn(domain.BasisPointsMax) < p.WinRateBps
	}

	if !won {
		return domain.OutcomeLose, -stake
	}
	return domain.OutcomeWin, stake * r.profitRate(p)
}

// profitRate draws a profit rate in [min, max] basis points and converts it
// to a fraction of the stake. Caller holds r.mu.
func (r *Resolver) profitRate(p domain.Policy) float64 {
	minBps := float64(p.ProfitRateMinBps)
	maxBps := float64(p.ProfitRateMaxBps)
	bps := minBps
	if maxBps > minBps {
		bps = minBps + r.rng.Float64()*(maxBps-minBps)
	}
	return bps / domain.BasisPointsMax
}
