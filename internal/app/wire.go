package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/cryptonex/flashtrade/internal/blob/s3"
	"github.com/cryptonex/flashtrade/internal/cache/redis"
	"github.com/cryptonex/flashtrade/internal/config"
	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/notify"
	"github.com/cryptonex/flashtrade/internal/store/memory"
	"github.com/cryptonex/flashtrade/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the service goroutines
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Ledger       domain.LedgerStore
	Policies     domain.PolicyStore
	Transactions domain.TransactionStore

	// Caches
	Prices      domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager // nil in dev mode
	SignalBus   domain.SignalBus

	// Blob storage; only set when the archive job is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Operator alerts
	Alerter *notify.Alerter
}

// defaultPolicy converts the configured fallback policy to the domain type.
func defaultPolicy(cfg config.PolicyConfig) domain.Policy {
	return domain.Policy{
		WinRateBps:       cfg.WinRateBps,
		ProfitRateMinBps: cfg.ProfitRateMinBps,
		ProfitRateMaxBps: cfg.ProfitRateMaxBps,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. In "dev" mode everything runs
// in process on the memory stores; "full" mode connects Postgres and Redis.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	fallback := defaultPolicy(cfg.Trade.DefaultPolicy)

	if strings.ToLower(cfg.Mode) == "dev" {
		ledger := memory.NewLedgerStore()
		deps.Ledger = ledger
		deps.Transactions = ledger
		deps.Policies = memory.NewPolicyStore(fallback)
		deps.Prices = memory.NewPriceCache()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
	} else {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Policies = postgres.NewPolicyStore(pool, fallback)
		deps.Transactions = postgres.NewTransactionStore(pool)

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (only when the archive job is on) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewTradeArchiver(deps.BlobWriter, deps.Ledger, logger)
	}

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Alerter = notify.NewAlerter(senders, cfg.Notify.Alerts, logger)

	return deps, cleanup, nil
}
