package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cryptonex/flashtrade/internal/auth"
	"github.com/cryptonex/flashtrade/internal/feed"
	"github.com/cryptonex/flashtrade/internal/notify"
	"github.com/cryptonex/flashtrade/internal/outcome"
	"github.com/cryptonex/flashtrade/internal/pipeline"
	"github.com/cryptonex/flashtrade/internal/scheduler"
	"github.com/cryptonex/flashtrade/internal/server"
	"github.com/cryptonex/flashtrade/internal/server/handler"
	"github.com/cryptonex/flashtrade/internal/server/ws"
	"github.com/cryptonex/flashtrade/internal/service"
)

// shutdownTimeout bounds the graceful drain of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// serve builds the service graph on top of the wired dependencies and runs
// every goroutine until the context is cancelled: the settlement scheduler,
// the websocket hub, the price feed, the HTTP server, and (when enabled)
// the archive cron.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	bus := notify.NewBus(deps.SignalBus, a.logger)
	resolver := outcome.NewDefaultResolver()

	var schedOpts []scheduler.Option
	if deps.LockManager != nil {
		schedOpts = append(schedOpts, scheduler.WithLockManager(deps.LockManager))
	}
	sched := scheduler.New(deps.Ledger, deps.Policies, resolver, bus, a.logger, schedOpts...)

	tradeSvc := service.NewTradeService(
		deps.Ledger,
		deps.Transactions,
		deps.Prices,
		deps.RateLimiter,
		sched,
		bus,
		service.TradeSettings{
			Pairs:      a.cfg.Trade.Pairs,
			Durations:  a.cfg.Trade.Durations,
			MinStake:   a.cfg.Trade.MinStake,
			MaxStake:   a.cfg.Trade.MaxStake,
			RateLimit:  a.cfg.Trade.RateLimit,
			RateWindow: a.cfg.Trade.RateWindow.Duration,
		},
		a.logger,
	)
	policySvc := service.NewPolicyService(deps.Policies, deps.Ledger, sched, deps.Alerter, a.logger)

	verifier := auth.NewVerifier(a.cfg.Auth.JWTSecret)
	registry := ws.NewRegistry(a.logger)
	hub := ws.NewHub(registry, deps.SignalBus, verifier, a.logger)

	simulator := feed.NewSimulator(deps.Prices, bus, a.cfg.Feed.StartingPrices, a.cfg.Feed.Interval.Duration, a.logger)
	if err := simulator.Prime(ctx); err != nil {
		return err
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			RateLimiter: deps.RateLimiter,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Trades: handler.NewTradeHandler(tradeSvc, a.logger),
			Admin:  handler.NewAdminHandler(policySvc, a.logger),
		},
		verifier,
		hub,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return simulator.Run(ctx) })

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error { return archiver.RunCron(ctx, a.cfg.Archive.Cron) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
