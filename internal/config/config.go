// Package config defines the top-level configuration for the flash trade
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHTRADE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auth     AuthConfig     `toml:"auth"`
	Trade    TradeConfig    `toml:"trade"`
	Feed     FeedConfig     `toml:"feed"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuthConfig holds token verification parameters.
type AuthConfig struct {
	// JWTSecret is the HMAC secret shared with the platform that issues
	// session tokens.
	JWTSecret string `toml:"jwt_secret"`
}

// TradeConfig holds the flash trade product parameters.
type TradeConfig struct {
	// Pairs lists the tradeable symbols, e.g. "BTC/USDT".
	Pairs []string `toml:"pairs"`

	// Durations lists the accepted trade lengths in seconds.
	Durations []int `toml:"durations"`

	MinStake float64 `toml:"min_stake"`
	MaxStake float64 `toml:"max_stake"`

	// RateLimit caps trade creations per user per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// DefaultPolicy is the outcome policy applied before any operator has
	// written one.
	DefaultPolicy PolicyConfig `toml:"default_policy"`
}

// PolicyConfig mirrors the operator outcome policy for the config file.
type PolicyConfig struct {
	WinRateBps       int `toml:"win_rate_bps"`
	ProfitRateMinBps int `toml:"profit_rate_min_bps"`
	ProfitRateMaxBps int `toml:"profit_rate_max_bps"`
}

// FeedConfig holds the simulated price feed parameters.
type FeedConfig struct {
	// Interval is the tick spacing between price updates.
	Interval duration `toml:"interval"`

	// StartingPrices seeds the random walk, keyed by pair. Every pair in
	// trade.pairs must have a starting price.
	StartingPrices map[string]float64 `toml:"starting_prices"`
}

// ArchiveConfig holds the settled-trade retention job parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Alerts            []string `toml:"alerts"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flashtrade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flashtrade-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Trade: TradeConfig{
			Pairs:      []string{"BTC/USDT", "ETH/USDT"},
			Durations:  []int{30, 60, 120, 300},
			MinStake:   10,
			MaxStake:   1000,
			RateLimit:  10,
			RateWindow: duration{time.Minute},
			DefaultPolicy: PolicyConfig{
				WinRateBps:       3000,
				ProfitRateMinBps: 7000,
				ProfitRateMaxBps: 9000,
			},
		},
		Feed: FeedConfig{
			Interval: duration{2 * time.Second},
			StartingPrices: map[string]float64{
				"BTC/USDT": 67000,
				"ETH/USDT": 3500,
			},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Alerts: []string{"policy_changed", "balance_adjusted", "forced_result"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "full" runs
// against Postgres and Redis; "dev" runs everything in process with the
// memory stores.
var validModes = map[string]bool{
	"full": true,
	"dev":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, dev)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	full := strings.ToLower(c.Mode) == "full"

	// Postgres — only required when running against real infrastructure.
	if full {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only needed when the archive job is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron %q must have 5 fields", c.Archive.Cron))
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth: jwt_secret must not be empty")
	}

	// Trade
	if len(c.Trade.Pairs) == 0 {
		errs = append(errs, "trade: pairs must not be empty")
	}
	if len(c.Trade.Durations) == 0 {
		errs = append(errs, "trade: durations must not be empty")
	}
	for _, d := range c.Trade.Durations {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("trade: duration %d must be positive", d))
		}
	}
	if c.Trade.MinStake <= 0 {
		errs = append(errs, "trade: min_stake must be > 0")
	}
	if c.Trade.MaxStake < c.Trade.MinStake {
		errs = append(errs, "trade: max_stake must be >= min_stake")
	}
	if c.Trade.RateLimit < 1 {
		errs = append(errs, "trade: rate_limit must be >= 1")
	}
	if c.Trade.RateWindow.Duration <= 0 {
		errs = append(errs, "trade: rate_window must be > 0")
	}
	if p := c.Trade.DefaultPolicy; p.WinRateBps < 0 || p.WinRateBps > 10000 {
		errs = append(errs, fmt.Sprintf("trade: default_policy.win_rate_bps must be 0-10000, got %d", p.WinRateBps))
	}
	if p := c.Trade.DefaultPolicy; p.ProfitRateMinBps < 0 || p.ProfitRateMinBps > p.ProfitRateMaxBps {
		errs = append(errs, "trade: default_policy profit rate bounds are inverted or negative")
	}

	// Feed
	if c.Feed.Interval.Duration <= 0 {
		errs = append(errs, "feed: interval must be > 0")
	}
	for _, pair := range c.Trade.Pairs {
		if price, ok := c.Feed.StartingPrices[pair]; !ok || price <= 0 {
			errs = append(errs, fmt.Sprintf("feed: starting_prices missing positive price for pair %q", pair))
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify — Telegram needs both halves.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
