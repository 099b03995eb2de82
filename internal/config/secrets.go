package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Auth
	out.Auth = cfg.Auth
	redact(&out.Auth.JWTSecret)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Alerts != nil {
		out.Notify.Alerts = make([]string, len(cfg.Notify.Alerts))
		copy(out.Notify.Alerts, cfg.Notify.Alerts)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Trade.Pairs != nil {
		out.Trade.Pairs = make([]string, len(cfg.Trade.Pairs))
		copy(out.Trade.Pairs, cfg.Trade.Pairs)
	}
	if cfg.Trade.Durations != nil {
		out.Trade.Durations = make([]int, len(cfg.Trade.Durations))
		copy(out.Trade.Durations, cfg.Trade.Durations)
	}
	if cfg.Feed.StartingPrices != nil {
		out.Feed.StartingPrices = make(map[string]float64, len(cfg.Feed.StartingPrices))
		for k, v := range cfg.Feed.StartingPrices {
			out.Feed.StartingPrices[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
