package config

import (
	"maps"
	"strings"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials are
// replaced by "***" and slices and maps are copied so the original cannot
// be mutated through the result.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Resolver.Aliases = maps.Clone(cfg.Resolver.Aliases)
	out.Bookmakers = append([]BookmakerConfig(nil), cfg.Bookmakers...)
	for i := range out.Bookmakers {
		// Feed URLs often carry access tokens in the query string.
		redactQuery(&out.Bookmakers[i].URL)
		redactQuery(&out.Bookmakers[i].StatusURL)
	}
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func redactQuery(s *string) {
	if base, _, ok := strings.Cut(*s, "?"); ok {
		*s = base + "?" + redacted
	}
}
