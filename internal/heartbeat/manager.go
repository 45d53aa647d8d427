package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// MonitorInfo describes a running monitor.
type MonitorInfo struct {
	EventID       string                `json:"event_id"`
	BookmakerCode string                `json:"bookmaker_code"`
	State         domain.HeartbeatState `json:"state"`
	Samples       int                   `json:"samples"`
}

type monitorKey struct {
	eventID, bookmaker string
}

// Manager starts a monitor for every live event on every bookmaker that has
// a status adapter and a mapping for it.
type Manager struct {
	events   domain.EventStore
	mappings domain.MappingStore
	adapters map[string]domain.MarketStatusAdapter
	store    domain.HeartbeatStore
	notifier domain.NotificationChannel
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	monitors map[monitorKey]*Monitor
	ended    map[string]bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. adapters is keyed by bookmaker code.
func NewManager(
	events domain.EventStore,
	mappings domain.MappingStore,
	adapters map[string]domain.MarketStatusAdapter,
	store domain.HeartbeatStore,
	notifier domain.NotificationChannel,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		events:   events,
		mappings: mappings,
		adapters: adapters,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "heartbeat_manager")),
		now:      time.Now,
		monitors: make(map[monitorKey]*Monitor),
		ended:    make(map[string]bool),
	}
}

// Run discovers live events every DiscoverInterval until ctx is done, then
// waits for the running monitors to write their final snapshots.
func (mg *Manager) Run(ctx context.Context) error {
	mg.logger.InfoContext(ctx, "heartbeat manager started",
		slog.Int("bookmakers", len(mg.adapters)),
		slog.Duration("poll_interval", mg.cfg.PollInterval),
	)
	defer mg.wg.Wait()

	ticker := time.NewTicker(mg.cfg.DiscoverInterval)
	defer ticker.Stop()

	for {
		if _, err := mg.Discover(ctx); err != nil && ctx.Err() == nil {
			mg.logger.ErrorContext(ctx, "live event discovery failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Discover starts monitors for live events that are not yet monitored and
// returns how many were started.
func (mg *Manager) Discover(ctx context.Context) (int, error) {
	now := mg.now()
	live, err := mg.events.ListLive(ctx, now, mg.cfg.Ceiling)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: list live events: %w", err)
	}

	liveIDs := make(map[string]bool, len(live))
	for _, e := range live {
		liveIDs[e.EventID] = true
	}
	mg.mu.Lock()
	for id := range mg.ended {
		if !liveIDs[id] {
			delete(mg.ended, id)
		}
	}
	mg.mu.Unlock()

	started := 0
	var errs []error
	for _, e := range live {
		ms, err := mg.mappings.ListByEvent(ctx, e.EventID)
		if err != nil {
			errs = append(errs, fmt.Errorf("heartbeat: mappings of %s: %w", e.EventID, err))
			continue
		}
		for _, m := range ms {
			adapter, ok := mg.adapters[m.BookmakerCode]
			if !ok {
				continue
			}
			if mg.start(ctx, e, m.BookmakerCode, adapter) {
				started++
			}
		}
	}

	if started > 0 {
		mg.logger.InfoContext(ctx, "heartbeat monitors started",
			slog.Int("started", started),
			slog.Int("running", len(mg.Active())),
		)
	}
	return started, errors.Join(errs...)
}

func (mg *Manager) start(ctx context.Context, e domain.CanonicalEvent, bookmaker string, adapter domain.MarketStatusAdapter) bool {
	key := monitorKey{e.EventID, bookmaker}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if mg.ended[e.EventID] {
		return false
	}
	if _, running := mg.monitors[key]; running {
		return false
	}
	if mg.cfg.MaxMonitors > 0 && len(mg.monitors) >= mg.cfg.MaxMonitors {
		mg.logger.WarnContext(ctx, "monitor limit reached, event skipped",
			slog.String("event_id", e.EventID),
			slog.Int("max_monitors", mg.cfg.MaxMonitors),
		)
		return false
	}

	mon := NewMonitor(e.EventID, bookmaker, e.Kickoff, adapter, mg.store, mg.notifier, mg.cfg, mg.logger)
	mon.now = mg.now
	mg.monitors[key] = mon

	mg.wg.Add(1)
	go func() {
		defer mg.wg.Done()
		_ = mon.Run(ctx)

		mg.mu.Lock()
		delete(mg.monitors, key)
		if r := mon.StopReason(); r == StopEnded || r == StopCeiling {
			mg.ended[e.EventID] = true
		}
		mg.mu.Unlock()
	}()
	return true
}

// Stop signals the end of a match. Every monitor of the event stops and
// discovery will not restart it. It returns how many monitors were stopped.
func (mg *Manager) Stop(eventID string) int {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	mg.ended[eventID] = true
	n := 0
	for key, mon := range mg.monitors {
		if key.eventID == eventID {
			mon.Stop()
			n++
		}
	}
	return n
}

// Active lists running monitors ordered by event and bookmaker.
func (mg *Manager) Active() []MonitorInfo {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	out := make([]MonitorInfo, 0, len(mg.monitors))
	for key, mon := range mg.monitors {
		out = append(out, MonitorInfo{
			EventID:       key.eventID,
			BookmakerCode: key.bookmaker,
			State:         mon.State(),
			Samples:       mon.Tally().Total(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].BookmakerCode < out[j].BookmakerCode
	})
	return out
}
