package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oddsbot/internal/server"
	"github.com/alanyoungcy/oddsbot/internal/server/handler"
	"github.com/alanyoungcy/oddsbot/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// IngestMode runs the scheduled bookmaker ingestion and, when enabled, the
// archive cron.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startIngest(ctx, g, deps)
	return g.Wait()
}

// MonitorMode runs the heartbeat manager only.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Heartbeats.Run(ctx)
	})
	return g.Wait()
}

// ServerMode serves the query API and the WebSocket feed. Manual triggers
// answer 503 because no scheduler runs in this process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// FullMode runs ingestion, heartbeat monitoring and the HTTP server in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startIngest(ctx, g, deps)
	g.Go(func() error {
		return deps.Heartbeats.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, deps.Orchestrator, deps.Heartbeats)
	return g.Wait()
}

func (a *App) startIngest(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Orchestrator.Run(ctx)
	})

	if deps.ArchiveRun == nil {
		return
	}
	g.Go(func() error {
		return deps.ArchiveRun.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer registers the API and the WebSocket hub on g. trigger and
// monitors may be nil when the scheduler or the heartbeat manager run in
// another process.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	trigger handler.Trigger,
	monitors handler.MonitorControl,
) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Events:    handler.NewEventHandler(deps.Query, a.logger),
		Pipeline:  handler.NewPipelineHandler(trigger, a.logger),
		Heartbeat: handler.NewHeartbeatHandler(monitors, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
