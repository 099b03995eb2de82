package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHTRADE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHTRADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLASHTRADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHTRADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHTRADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHTRADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHTRADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHTRADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHTRADE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLASHTRADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLASHTRADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLASHTRADE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLASHTRADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHTRADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHTRADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHTRADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHTRADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHTRADE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLASHTRADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHTRADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHTRADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHTRADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHTRADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHTRADE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHTRADE_S3_FORCE_PATH_STYLE")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "FLASHTRADE_AUTH_JWT_SECRET")

	// ── Trade ──
	setStringSlice(&cfg.Trade.Pairs, "FLASHTRADE_TRADE_PAIRS")
	setIntSlice(&cfg.Trade.Durations, "FLASHTRADE_TRADE_DURATIONS")
	setFloat64(&cfg.Trade.MinStake, "FLASHTRADE_TRADE_MIN_STAKE")
	setFloat64(&cfg.Trade.MaxStake, "FLASHTRADE_TRADE_MAX_STAKE")
	setInt(&cfg.Trade.RateLimit, "FLASHTRADE_TRADE_RATE_LIMIT")
	setDuration(&cfg.Trade.RateWindow, "FLASHTRADE_TRADE_RATE_WINDOW")
	setInt(&cfg.Trade.DefaultPolicy.WinRateBps, "FLASHTRADE_TRADE_DEFAULT_WIN_RATE_BPS")
	setInt(&cfg.Trade.DefaultPolicy.ProfitRateMinBps, "FLASHTRADE_TRADE_DEFAULT_PROFIT_RATE_MIN_BPS")
	setInt(&cfg.Trade.DefaultPolicy.ProfitRateMaxBps, "FLASHTRADE_TRADE_DEFAULT_PROFIT_RATE_MAX_BPS")

	// ── Feed ──
	setDuration(&cfg.Feed.Interval, "FLASHTRADE_FEED_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLASHTRADE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "FLASHTRADE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "FLASHTRADE_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "FLASHTRADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHTRADE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLASHTRADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHTRADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHTRADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Alerts, "FLASHTRADE_NOTIFY_ALERTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHTRADE_MODE")
	setStr(&cfg.LogLevel, "FLASHTRADE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setIntSlice(dst *[]int, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return
			}
			cleaned = append(cleaned, n)
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
