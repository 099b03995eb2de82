package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache is an in-memory domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

// SetPrice implements domain.PriceCache.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, price float64, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.prices[pair] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice implements domain.PriceCache.
func (pc *PriceCache) GetPrice(ctx context.Context, pair string) (float64, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.prices[pair]
	if !ok {
		return 0, time.Time{}, domain.ErrPriceUnavailable
	}
	return p.price, p.ts, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
