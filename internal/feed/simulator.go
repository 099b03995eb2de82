// Package feed generates the simulated market prices shown next to flash
// trades. Prices are cosmetic: charts and entry/exit numbers come from here,
// but trade outcomes never do.
package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// maxStepBps bounds a single tick's move at ±0.3% of the current price.
const maxStepBps = 30

// PricePublisher pushes price_update events to connected clients.
type PricePublisher interface {
	PublishPriceUpdate(ctx context.Context, p domain.PriceUpdatePayload)
}

// Simulator drives a random walk per configured pair on a fixed interval,
// writing each tick to the price cache and announcing it on the bus.
type Simulator struct {
	cache     domain.PriceCache
	publisher PricePublisher
	logger    *slog.Logger
	interval  time.Duration
	rng       *rand.Rand

	prices map[string]float64
	opens  map[string]float64
}

// NewSimulator creates a Simulator seeded with the given starting price per
// pair.
func NewSimulator(
	cache domain.PriceCache,
	publisher PricePublisher,
	starting map[string]float64,
	interval time.Duration,
	logger *slog.Logger,
) *Simulator {
	prices := make(map[string]float64, len(starting))
	opens := make(map[string]float64, len(starting))
	for pair, price := range starting {
		prices[pair] = price
		opens[pair] = price
	}
	return &Simulator{
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "price_feed")),
		interval:  interval,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:    prices,
		opens:     opens,
	}
}

// Prime writes the starting prices to the cache so trades can be opened
// before the first tick.
func (s *Simulator) Prime(ctx context.Context) error {
	now := time.Now().UTC()
	for pair, price := range s.prices {
		if err := s.cache.SetPrice(ctx, pair, price, now); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks every interval until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("price feed started",
		slog.Int("pairs", len(s.prices)),
		slog.Duration("interval", s.interval),
	)
	defer s.logger.Info("price feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Simulator) tick(ctx context.Context) {
	now := time.Now().UTC()
	for pair := range s.prices {
		price := s.step(pair)

		if err := s.cache.SetPrice(ctx, pair, price, now); err != nil {
			s.logger.Warn("cache price failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
			continue
		}

		change := 0.0
		if open := s.opens[pair]; open > 0 {
			change = (price - open) / open * 100
		}
		s.publisher.PublishPriceUpdate(ctx, domain.PriceUpdatePayload{
			Pair:      pair,
			Price:     price,
			Change24h: change,
		})
	}
}

// step advances one pair's random walk and returns the new price.
func (s *Simulator) step(pair string) float64 {
	price := s.prices[pair]
	drift := (s.rng.Float64()*2 - 1) * float64(maxStepBps) / 10000
	price *= 1 + drift
	if price <= 0 {
		price = s.opens[pair]
	}
	s.prices[pair] = price
	return price
}
