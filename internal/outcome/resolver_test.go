package outcome

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
)

func seeded(seed int64) *Resolver {
	return NewResolver(rand.New(rand.NewSource(seed)))
}

func TestResolve_ForcedWinIsDeterministic(t *testing.T) {
	forced := domain.OutcomeWin
	p := domain.Policy{WinRateBps: 0, ProfitRateMinBps: 8500, ProfitRateMaxBps: 8500, ForcedOutcome: &forced}

	r := seeded(1)
	for i := 0; i < 1000; i++ {
		out, profit := r.Resolve(40, p)
		require.Equal(t, domain.OutcomeWin, out)
		require.InDelta(t, 34.0, profit, 1e-9)
	}
}

func TestResolve_ForcedLoseForfeitsStake(t *testing.T) {
	forced := domain.OutcomeLose
	p := domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 8500, ProfitRateMaxBps: 8500, ForcedOutcome: &forced}

	r := seeded(1)
	for i := 0; i < 1000; i++ {
		out, profit := r.Resolve(40, p)
		require.Equal(t, domain.OutcomeLose, out)
		require.Equal(t, -40.0, profit)
	}
}

func TestResolve_FullWinRateAlwaysWins(t *testing.T) {
	p := domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 100, ProfitRateMaxBps: 500}
	r := seeded(7)
	for i := 0; i < 1000; i++ {
		out, profit := r.Resolve(100, p)
		require.Equal(t, domain.OutcomeWin, out)
		require.Greater(t, profit, 0.0)
	}
}

func TestResolve_ZeroWinRateAlwaysLoses(t *testing.T) {
	p := domain.Policy{WinRateBps: 0, ProfitRateMinBps: 100, ProfitRateMaxBps: 500}
	r := seeded(7)
	for i := 0; i < 1000; i++ {
		out, profit := r.Resolve(100, p)
		require.Equal(t, domain.OutcomeLose, out)
		require.Equal(t, -100.0, profit)
	}
}

func TestResolve_HalfWinRateIsCloseToHalf(t *testing.T) {
	p := domain.Policy{WinRateBps: 5000, ProfitRateMinBps: 8000, ProfitRateMaxBps: 9000}
	r := seeded(42)

	const n = 100000
	wins := 0
	for i := 0; i < n; i++ {
		if out, _ := r.Resolve(10, p); out == domain.OutcomeWin {
			wins++
		}
	}

	fraction := float64(wins) / n
	// 4-sigma band for a fair binomial draw.
	tolerance := 4 * math.Sqrt(0.25/n)
	assert.InDelta(t, 0.5, fraction, tolerance)
}

func TestResolve_ProfitStaysInRange(t *testing.T) {
	p := domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 1000, ProfitRateMaxBps: 2000}
	r := seeded(9)
	for i := 0; i < 1000; i++ {
		_, profit := r.Resolve(100, p)
		assert.GreaterOrEqual(t, profit, 10.0)
		assert.LessOrEqual(t, profit, 20.0)
	}
}

func TestResolve_DegenerateProfitRange(t *testing.T) {
	p := domain.Policy{WinRateBps: 10000, ProfitRateMinBps: 8500, ProfitRateMaxBps: 8500}
	_, profit := seeded(3).Resolve(40, p)
	assert.InDelta(t, 34.0, profit, 1e-9)
}

func TestResolve_ConcurrentDraws(t *testing.T) {
	p := domain.Policy{WinRateBps: 5000, ProfitRateMinBps: 1000, ProfitRateMaxBps: 2000}
	r := seeded(11)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				out, profit := r.Resolve(100, p)
				switch out {
				case domain.OutcomeWin:
					assert.GreaterOrEqual(t, profit, 10.0)
					assert.LessOrEqual(t, profit, 20.0)
				case domain.OutcomeLose:
					assert.Equal(t, -100.0, profit)
				default:
					t.Errorf("unexpected outcome %q", out)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPolicyValidate(t *testing.T) {
	bad := domain.Outcome("draw")
	cases := []struct {
		name   string
		policy domain.Policy
		ok     bool
	}{
		{"valid", domain.Policy{WinRateBps: 5000, ProfitRateMinBps: 100, ProfitRateMaxBps: 200}, true},
		{"win rate too high", domain.Policy{WinRateBps: 10001}, false},
		{"win rate negative", domain.Policy{WinRateBps: -1}, false},
		{"inverted profit range", domain.Policy{WinRateBps: 5000, ProfitRateMinBps: 300, ProfitRateMaxBps: 200}, false},
		{"negative profit min", domain.Policy{WinRateBps: 5000, ProfitRateMinBps: -10, ProfitRateMaxBps: 200}, false},
		{"bad forced outcome", domain.Policy{WinRateBps: 5000, ForcedOutcome: &bad}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
			}
		})
	}
}
