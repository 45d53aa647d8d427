// Package config defines the oddsbot configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by ODDSBOT_* environment variables.
type Config struct {
	Postgres   PostgresConfig    `toml:"postgres"`
	Redis      RedisConfig       `toml:"redis"`
	S3         S3Config          `toml:"s3"`
	Storage    StorageConfig     `toml:"storage"`
	Ingest     IngestConfig      `toml:"ingest"`
	Resolver   ResolverConfig    `toml:"resolver"`
	Heartbeat  HeartbeatConfig   `toml:"heartbeat"`
	Archive    ArchiveConfig     `toml:"archive"`
	Server     ServerConfig      `toml:"server"`
	Notify     NotifyConfig      `toml:"notify"`
	Bookmakers []BookmakerConfig `toml:"bookmakers"`
	Mode       string            `toml:"mode"`
	LogLevel   string            `toml:"log_level"`
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
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds the archive bucket parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	CacheMemory     = "memory"
	CacheRedis      = "redis"
)

// StorageConfig picks the store and cache implementations. The memory
// variants need no external services and lose everything on exit.
type StorageConfig struct {
	Backend       string   `toml:"backend"`
	Cache         string   `toml:"cache"`
	EventCacheTTL duration `toml:"event_cache_ttl"`
	StreamMaxLen  int      `toml:"stream_max_len"`
}

// IngestConfig tunes the scrape orchestrator.
type IngestConfig struct {
	Interval      duration `toml:"interval"`
	Workers       int      `toml:"workers"`
	MaxAttempts   int      `toml:"max_attempts"`
	BaseDelay     duration `toml:"base_delay"`
	MaxDelay      duration `toml:"max_delay"`
	RunTimeout    duration `toml:"run_timeout"`
	CommitTimeout duration `toml:"commit_timeout"`
	// PageRequests per PageWindow bounds paged feed requests per bookmaker.
	PageRequests int      `toml:"page_requests"`
	PageWindow   duration `toml:"page_window"`
	HTTPTimeout  duration `toml:"http_timeout"`
}

// ResolverConfig tunes event resolution.
type ResolverConfig struct {
	Tolerance duration `toml:"tolerance"`
	// Aliases maps a normalized team name onto its canonical spelling.
	Aliases map[string]string `toml:"aliases"`
}

// HeartbeatConfig tunes live market availability monitoring.
type HeartbeatConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	PollTimeout      duration `toml:"poll_timeout"`
	Ceiling          duration `toml:"ceiling"`
	SnapshotEvery    int      `toml:"snapshot_every"`
	DiscoverInterval duration `toml:"discover_interval"`
	MaxMonitors      int      `toml:"max_monitors"`
}

// ArchiveConfig schedules the cold-storage archive of append-only history.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BookmakerConfig declares one bookmaker and its adapters.
type BookmakerConfig struct {
	Code     string `toml:"code"`
	Name     string `toml:"name"`
	Kind     string `toml:"kind"`
	URL      string `toml:"url"`
	Path     string `toml:"path"`
	Timezone string `toml:"timezone"`
	PageSize int    `toml:"page_size"`
	// ProviderEventIDs marks feeds whose numeric eventId is the SportRadar
	// match number.
	ProviderEventIDs bool `toml:"provider_event_ids"`
	// Interval overrides ingest.interval for this bookmaker.
	Interval duration `toml:"interval"`
	// StatusURL enables heartbeat polling of <status_url>/<external id>.
	StatusURL string `toml:"status_url"`
	// Active defaults to true.
	Active *bool `toml:"active"`
}

// IsActive reports whether the bookmaker is scheduled.
func (b BookmakerConfig) IsActive() bool {
	return b.Active == nil || *b.Active
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values in
// config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "oddsbot:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsbot-archive",
			ForcePathStyle: true,
		},
		Storage: StorageConfig{
			Backend:       BackendPostgres,
			Cache:         CacheRedis,
			EventCacheTTL: duration{5 * time.Minute},
			StreamMaxLen:  10000,
		},
		Ingest: IngestConfig{
			Interval:      duration{15 * time.Minute},
			Workers:       4,
			MaxAttempts:   3,
			BaseDelay:     duration{time.Second},
			MaxDelay:      duration{30 * time.Second},
			RunTimeout:    duration{5 * time.Minute},
			CommitTimeout: duration{30 * time.Second},
			PageRequests:  2,
			PageWindow:    duration{time.Second},
			HTTPTimeout:   duration{30 * time.Second},
		},
		Resolver: ResolverConfig{
			Tolerance: duration{90 * time.Minute},
			Aliases:   map[string]string{},
		},
		Heartbeat: HeartbeatConfig{
			PollInterval:     duration{10 * time.Second},
			PollTimeout:      duration{5 * time.Second},
			Ceiling:          duration{130 * time.Minute},
			SnapshotEvery:    1,
			DiscoverInterval: duration{time.Minute},
			MaxMonitors:      200,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"ingest_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeIngest  = "ingest"
	ModeMonitor = "monitor"
	ModeServer  = "server"
	ModeFull    = "full"
)

var validModes = map[string]bool{
	ModeIngest:  true,
	ModeMonitor: true,
	ModeServer:  true,
	ModeFull:    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[string]bool{
	"file":      true,
	"http_json": true,
}

// Validate checks c and returns one error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: ingest, monitor, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Mode != ModeFull {
			add("storage: backend %q only works in mode full (nothing is shared between processes)", BackendMemory)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend)
	}

	switch c.Storage.Cache {
	case CacheMemory:
	case CacheRedis:
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	default:
		add("storage: unknown cache %q (valid: memory, redis)", c.Storage.Cache)
	}
	if c.Storage.EventCacheTTL.Duration <= 0 {
		add("storage: event_cache_ttl must be > 0")
	}

	if c.Ingest.Interval.Duration <= 0 {
		add("ingest: interval must be > 0")
	}
	if c.Ingest.Workers < 1 {
		add("ingest: workers must be >= 1")
	}
	if c.Ingest.MaxAttempts < 1 {
		add("ingest: max_attempts must be >= 1")
	}
	if c.Ingest.BaseDelay.Duration <= 0 || c.Ingest.MaxDelay.Duration < c.Ingest.BaseDelay.Duration {
		add("ingest: base_delay must be > 0 and not exceed max_delay")
	}
	if c.Ingest.RunTimeout.Duration <= 0 || c.Ingest.CommitTimeout.Duration <= 0 {
		add("ingest: run_timeout and commit_timeout must be > 0")
	}
	if c.Ingest.PageRequests < 1 || c.Ingest.PageWindow.Duration <= 0 {
		add("ingest: page_requests must be >= 1 and page_window > 0")
	}

	if c.Resolver.Tolerance.Duration <= 0 {
		add("resolver: tolerance must be > 0")
	}

	if c.Heartbeat.PollInterval.Duration <= 0 {
		add("heartbeat: poll_interval must be > 0")
	}
	if c.Heartbeat.PollTimeout.Duration <= 0 || c.Heartbeat.PollTimeout.Duration > c.Heartbeat.PollInterval.Duration {
		add("heartbeat: poll_timeout must be > 0 and not exceed poll_interval")
	}
	if c.Heartbeat.Ceiling.Duration <= 0 {
		add("heartbeat: ceiling must be > 0")
	}
	if c.Heartbeat.SnapshotEvery < 1 {
		add("heartbeat: snapshot_every must be >= 1")
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			add("archive: cron must not be empty")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archive is enabled")
		}
		if c.Storage.Backend != BackendPostgres {
			add("archive: requires storage backend %q", BackendPostgres)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required with telegram_token")
	}

	seen := make(map[string]bool, len(c.Bookmakers))
	for i, b := range c.Bookmakers {
		label := fmt.Sprintf("bookmakers[%d]", i)
		if b.Code == "" {
			add("%s: code must not be empty", label)
		} else {
			label = fmt.Sprintf("bookmakers[%s]", b.Code)
			if seen[b.Code] {
				add("%s: duplicate code", label)
			}
			seen[b.Code] = true
		}
		switch {
		case !validKinds[b.Kind]:
			add("%s: unknown kind %q (valid: file, http_json)", label, b.Kind)
		case b.Kind == "file" && b.Path == "":
			add("%s: path is required for kind file", label)
		case b.Kind == "http_json" && b.URL == "":
			add("%s: url is required for kind http_json", label)
		}
		if b.Timezone != "" {
			if _, err := time.LoadLocation(b.Timezone); err != nil {
				add("%s: unknown timezone %q", label, b.Timezone)
			}
		}
		if b.Interval.Duration < 0 || b.PageSize < 0 {
			add("%s: interval and page_size must not be negative", label)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
