package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/adapter"
	s3blob "github.com/alanyoungcy/oddsbot/internal/blob/s3"
	memcache "github.com/alanyoungcy/oddsbot/internal/cache/memory"
	"github.com/alanyoungcy/oddsbot/internal/cache/redis"
	"github.com/alanyoungcy/oddsbot/internal/config"
	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/heartbeat"
	"github.com/alanyoungcy/oddsbot/internal/notify"
	"github.com/alanyoungcy/oddsbot/internal/pipeline"
	"github.com/alanyoungcy/oddsbot/internal/resolver"
	"github.com/alanyoungcy/oddsbot/internal/server/handler"
	"github.com/alanyoungcy/oddsbot/internal/service"
	"github.com/alanyoungcy/oddsbot/internal/store/memory"
	"github.com/alanyoungcy/oddsbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	BookmakerStore domain.BookmakerStore
	EventStore     domain.EventStore
	MappingStore   domain.MappingStore
	UnmappedStore  domain.UnmappedStore
	HistoryStore   domain.OddsHistoryStore
	MarginStore    domain.TournamentMarginStore
	HeartbeatStore domain.HeartbeatStore
	AuditStore     domain.AuditStore

	// Caches
	EventCache  domain.EventCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage; nil unless archiving is enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Channel  *notify.BusChannel

	// Domain services
	Orchestrator *pipeline.Orchestrator
	Heartbeats   *heartbeat.Manager
	Query        *service.QueryService
	ArchiveRun   *pipeline.Archiver

	// Health checks keyed by dependency name.
	Checks map[string]handler.HealthCheck
}

// Wire constructs all concrete implementations from cfg and returns them
// together with a cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- Stores ---
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		st := pgClient.Stores()
		deps.BookmakerStore = st.Bookmakers
		deps.EventStore = st.Events
		deps.MappingStore = st.Mappings
		deps.UnmappedStore = st.Unmapped
		deps.HistoryStore = st.OddsHistory
		deps.MarginStore = st.TournamentMargins
		deps.HeartbeatStore = st.Heartbeats
		deps.AuditStore = st.Audit
		deps.Checks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "postgres stores wired")
	default:
		db := memory.New()
		deps.BookmakerStore = db.Bookmakers()
		deps.EventStore = db.Events()
		deps.MappingStore = db.Mappings()
		deps.UnmappedStore = db.Unmapped()
		deps.HistoryStore = db.OddsHistory()
		deps.MarginStore = db.TournamentMargins()
		deps.HeartbeatStore = db.Heartbeats()
		deps.AuditStore = db.Audit()
		logger.WarnContext(ctx, "using in-memory stores; data is lost on exit")
	}

	// --- Caches ---
	pageLimit, pageWindow := cfg.Ingest.PageRequests, cfg.Ingest.PageWindow.Duration
	switch cfg.Storage.Cache {
	case config.CacheRedis:
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close failed", slog.String("error", err.Error()))
			}
		})

		deps.EventCache = redis.NewEventCache(redisClient, cfg.Storage.EventCacheTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, pageLimit, pageWindow)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Storage.StreamMaxLen))
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis caches wired", slog.String("addr", cfg.Redis.Addr))
	default:
		deps.EventCache = memcache.NewEventCache(cfg.Storage.EventCacheTTL.Duration)
		deps.LockManager = memcache.NewLockManager()
		deps.RateLimiter = memcache.NewRateLimiter(pageLimit, pageWindow)
		deps.SignalBus = memcache.NewSignalBus(cfg.Storage.StreamMaxLen)
	}

	// --- Blob storage ---
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		blob := s3Client.Store()
		deps.Archiver = s3blob.NewArchiver(blob, blob, s3blob.HistorySources{
			Odds:       deps.HistoryStore,
			Margins:    deps.MarginStore,
			Heartbeats: deps.HeartbeatStore,
		}, deps.AuditStore)
		deps.ArchiveRun = pipeline.NewArchiver(deps.Archiver, deps.AuditStore, cfg.Archive.RetentionDays, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = buildNotifier(cfg.Notify, logger)
	deps.Channel = notify.NewBusChannel(deps.SignalBus, deps.Notifier, logger)

	// --- Bookmakers and adapters ---
	httpClient := &http.Client{Timeout: cfg.Ingest.HTTPTimeout.Duration}
	adapters, statusAdapters, intervals, err := buildAdapters(ctx, cfg, deps, httpClient, logger)
	if err != nil {
		return fail(err)
	}

	// --- Services ---
	res := resolver.New(resolver.Config{
		Tolerance: cfg.Resolver.Tolerance.Duration,
		Aliases:   cfg.Resolver.Aliases,
	}, deps.EventStore, deps.MappingStore, deps.UnmappedStore, logger)
	agg := service.NewAggregator(deps.EventStore, deps.EventCache, deps.LockManager, logger)
	margins := service.NewTournamentAggregator(deps.MarginStore, logger)
	ingester := pipeline.NewIngester(res, agg, margins, cfg.Ingest.CommitTimeout.Duration, logger)

	deps.Orchestrator = pipeline.NewOrchestrator(
		deps.BookmakerStore,
		adapters,
		intervals,
		ingester,
		deps.LockManager,
		deps.Channel,
		pipeline.Config{
			Interval:      cfg.Ingest.Interval.Duration,
			Workers:       cfg.Ingest.Workers,
			MaxAttempts:   cfg.Ingest.MaxAttempts,
			BaseDelay:     cfg.Ingest.BaseDelay.Duration,
			MaxDelay:      cfg.Ingest.MaxDelay.Duration,
			RunTimeout:    cfg.Ingest.RunTimeout.Duration,
			CommitTimeout: cfg.Ingest.CommitTimeout.Duration,
		},
		logger,
	)

	deps.Heartbeats = heartbeat.NewManager(
		deps.EventStore,
		deps.MappingStore,
		statusAdapters,
		deps.HeartbeatStore,
		deps.Channel,
		heartbeat.Config{
			PollInterval:     cfg.Heartbeat.PollInterval.Duration,
			PollTimeout:      cfg.Heartbeat.PollTimeout.Duration,
			Ceiling:          cfg.Heartbeat.Ceiling.Duration,
			SnapshotEvery:    cfg.Heartbeat.SnapshotEvery,
			DiscoverInterval: cfg.Heartbeat.DiscoverInterval.Duration,
			MaxMonitors:      cfg.Heartbeat.MaxMonitors,
		},
		logger,
	)

	deps.Query = service.NewQueryService(service.QueryStores{
		Bookmakers: deps.BookmakerStore,
		Events:     deps.EventStore,
		Mappings:   deps.MappingStore,
		Unmapped:   deps.UnmappedStore,
		History:    deps.HistoryStore,
		Margins:    deps.MarginStore,
		Heartbeats: deps.HeartbeatStore,
	}, deps.EventCache, logger)

	return deps, cleanup, nil
}

// buildNotifier returns nil when no sender is configured.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

// buildAdapters registers every configured bookmaker in the store and builds
// the ingestion adapters of the active ones, the status adapters of those
// with a status URL, and the per-bookmaker schedule overrides.
func buildAdapters(
	ctx context.Context,
	cfg *config.Config,
	deps *Dependencies,
	httpClient *http.Client,
	logger *slog.Logger,
) (map[string]domain.BookmakerAdapter, map[string]domain.MarketStatusAdapter, map[string]time.Duration, error) {
	registry := adapter.NewRegistry()
	adapterDeps := adapter.Deps{
		HTTPClient: httpClient,
		Limiter:    deps.RateLimiter,
		Logger:     logger,
	}

	adapters := make(map[string]domain.BookmakerAdapter)
	statusAdapters := make(map[string]domain.MarketStatusAdapter)
	intervals := make(map[string]time.Duration)

	for _, b := range cfg.Bookmakers {
		name := b.Name
		if name == "" {
			name = b.Code
		}
		if err := deps.BookmakerStore.Upsert(ctx, domain.Bookmaker{
			Code:   b.Code,
			Name:   name,
			Kind:   b.Kind,
			Active: b.IsActive(),
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("wire: register bookmaker %s: %w", b.Code, err)
		}
		if !b.IsActive() {
			logger.InfoContext(ctx, "bookmaker inactive", slog.String("bookmaker", b.Code))
			continue
		}

		a, err := registry.Build(adapter.Spec{
			Code:     b.Code,
			Kind:     b.Kind,
			URL:      b.URL,
			Path:     b.Path,
			Timezone: b.Timezone,
			PageSize: b.PageSize,

			ProviderEventIDs: b.ProviderEventIDs,
		}, adapterDeps)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("wire: %w", err)
		}
		adapters[b.Code] = a

		if b.Interval.Duration > 0 {
			intervals[b.Code] = b.Interval.Duration
		}
		if b.StatusURL != "" {
			statusAdapters[b.Code] = adapter.NewHTTPStatusAdapter(b.StatusURL, deps.MappingStore, httpClient)
		}
	}

	logger.InfoContext(ctx, "bookmakers registered",
		slog.Int("configured", len(cfg.Bookmakers)),
		slog.Int("active", len(adapters)),
		slog.Int("status_feeds", len(statusAdapters)),
	)
	return adapters, statusAdapters, intervals, nil
}
