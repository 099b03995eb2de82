package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/store/memory"
)

type capturedPrices struct {
	mu      sync.Mutex
	updates []domain.PriceUpdatePayload
}

func (c *capturedPrices) PublishPriceUpdate(ctx context.Context, p domain.PriceUpdatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, p)
}

func TestSimulatorPrime(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewPriceCache()
	sim := NewSimulator(cache, &capturedPrices{}, map[string]float64{
		"BTC/USDT": 64000,
		"ETH/USDT": 3200,
	}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, sim.Prime(ctx))

	price, _, err := cache.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 64000.0, price)
}

func TestSimulatorTick(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewPriceCache()
	published := &capturedPrices{}
	sim := NewSimulator(cache, published, map[string]float64{
		"BTC/USDT": 64000,
	}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 50; i++ {
		sim.tick(ctx)
	}

	published.mu.Lock()
	defer published.mu.Unlock()
	require.Len(t, published.updates, 50)

	// Every tick stays positive and within the per-step drift bound of its
	// predecessor.
	prev := 64000.0
	for _, u := range published.updates {
		assert.Greater(t, u.Price, 0.0)
		assert.InDelta(t, prev, u.Price, prev*float64(maxStepBps)/10000*1.01)
		prev = u.Price
	}

	// The cache carries the final price.
	price, _, err := cache.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, prev, price)
}

func TestSimulatorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache := memory.NewPriceCache()
	sim := NewSimulator(cache, &capturedPrices{}, map[string]float64{
		"BTC/USDT": 64000,
	}, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}
}
