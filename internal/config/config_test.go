package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"no pairs", func(c *Config) { c.Trade.Pairs = nil }, "pairs"},
		{"no durations", func(c *Config) { c.Trade.Durations = nil }, "durations"},
		{"negative duration", func(c *Config) { c.Trade.Durations = []int{-30} }, "must be positive"},
		{"inverted stakes", func(c *Config) { c.Trade.MaxStake = c.Trade.MinStake - 1 }, "max_stake"},
		{"win rate over 100%", func(c *Config) { c.Trade.DefaultPolicy.WinRateBps = 10001 }, "win_rate_bps"},
		{"inverted profit bounds", func(c *Config) {
			c.Trade.DefaultPolicy.ProfitRateMinBps = 9000
			c.Trade.DefaultPolicy.ProfitRateMaxBps = 7000
		}, "profit rate bounds"},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"pair without starting price", func(c *Config) {
			c.Trade.Pairs = append(c.Trade.Pairs, "SOL/USDT")
		}, "starting_prices"},
		{"telegram half configured", func(c *Config) { c.Notify.TelegramToken = "tok" }, "telegram"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "bucket"},
		{"archive bad cron", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Cron = "nope"
		}, "cron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDevModeSkipsInfraChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "dev"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "dev"
log_level = "debug"

[trade]
min_stake = 5.0
rate_window = "30s"
`), 0o600))

	t.Setenv("FLASHTRADE_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("FLASHTRADE_SERVER_PORT", "9100")
	t.Setenv("FLASHTRADE_TRADE_DURATIONS", "15,45")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values override defaults.
	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5.0, cfg.Trade.MinStake)
	assert.Equal(t, 30*time.Second, cfg.Trade.RateWindow.Duration)

	// Env overrides win over both.
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []int{15, 45}, cfg.Trade.Durations)

	// Untouched defaults survive.
	assert.Equal(t, 1000.0, cfg.Trade.MaxStake)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Notify.TelegramToken = "tok"
	cfg.Notify.TelegramChatID = "42"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Auth.JWTSecret)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Mutating the copy's slices must not leak back.
	red.Trade.Pairs[0] = "XXX"
	assert.Equal(t, "BTC/USDT", cfg.Trade.Pairs[0])
}
