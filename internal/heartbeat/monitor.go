package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Stop reasons.
const (
	StopEnded    = "ended"
	StopSignal   = "stopped"
	StopCeiling  = "ceiling"
	StopCanceled = "canceled"
)

// Config tunes monitors and the manager.
type Config struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	Ceiling          time.Duration
	SnapshotEvery    int
	DiscoverInterval time.Duration
	MaxMonitors      int
}

// DefaultConfig returns the production polling parameters.
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		PollTimeout:      5 * time.Second,
		Ceiling:          130 * time.Minute,
		SnapshotEvery:    1,
		DiscoverInterval: time.Minute,
		MaxMonitors:      200,
	}
}

// Monitor polls one (event, bookmaker) market until the match ends, it is
// stopped, or the ceiling since kickoff passes.
type Monitor struct {
	eventID   string
	bookmaker string
	kickoff   time.Time
	adapter   domain.MarketStatusAdapter
	store     domain.HeartbeatStore
	notifier  domain.NotificationChannel
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	state      domain.HeartbeatState
	tally      Tally
	snapped    int // tally total at the last snapshot
	stopReason string
}

// NewMonitor creates a Monitor in the unknown state.
func NewMonitor(
	eventID, bookmaker string,
	kickoff time.Time,
	adapter domain.MarketStatusAdapter,
	store domain.HeartbeatStore,
	notifier domain.NotificationChannel,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		eventID:   eventID,
		bookmaker: bookmaker,
		kickoff:   kickoff,
		adapter:   adapter,
		store:     store,
		notifier:  notifier,
		cfg:       cfg,
		logger: logger.With(
			slog.String("component", "heartbeat"),
			slog.String("event_id", eventID),
			slog.String("bookmaker", bookmaker),
		),
		now:   time.Now,
		stop:  make(chan struct{}),
		state: domain.HeartbeatUnknown,
	}
}

// Stop ends monitoring. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// State returns the latest observed state.
func (m *Monitor) State() domain.HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tally returns the sample counts so far.
func (m *Monitor) Tally() Tally {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tally
}

// StopReason is empty while the monitor runs.
func (m *Monitor) StopReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopReason
}

// Run polls immediately and then every PollInterval. It returns after the
// final stats snapshot is written.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "heartbeat monitor started")
	m.resume(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	reason := ""
	for reason == "" {
		reason = m.step(ctx)
		if reason != "" {
			break
		}
		select {
		case <-ctx.Done():
			reason = StopCanceled
		case <-m.stop:
			reason = StopSignal
		case <-ticker.C:
		}
	}

	m.mu.Lock()
	m.stopReason = reason
	m.mu.Unlock()

	// The final snapshot must land even when ctx is already cancelled.
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PollTimeout)
	defer cancel()
	if err := m.snapshot(snapCtx); err != nil {
		m.logger.WarnContext(ctx, "final heartbeat snapshot failed", slog.String("error", err.Error()))
	}

	m.logger.InfoContext(ctx, "heartbeat monitor stopped",
		slog.String("reason", reason),
		slog.Int("samples", m.Tally().Total()),
	)
	if reason == StopCanceled {
		return ctx.Err()
	}
	return nil
}

// resume seeds the tally from samples already stored for this market so
// that a restarted monitor keeps counting the whole match.
func (m *Monitor) resume(ctx context.Context) {
	samples, err := m.store.ListSamples(ctx, m.eventID, m.bookmaker, domain.ListOpts{})
	if err != nil {
		m.logger.WarnContext(ctx, "load stored heartbeat samples failed", slog.String("error", err.Error()))
		return
	}
	if len(samples) == 0 {
		return
	}

	m.mu.Lock()
	for _, sm := range samples {
		m.tally.Add(sm.State)
	}
	m.state = samples[len(samples)-1].State
	m.snapped = m.tally.Total()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "resumed heartbeat tally", slog.Int("samples", len(samples)))
}

// step performs one poll and returns a non-empty stop reason when
// monitoring must end.
func (m *Monitor) step(ctx context.Context) string {
	if !m.now().Before(m.kickoff.Add(m.cfg.Ceiling)) {
		return StopCeiling
	}

	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	reading, err := m.adapter.PollStatus(pollCtx, m.eventID, m.bookmaker)
	cancel()

	// A stop that arrived during the poll wins over its result.
	select {
	case <-m.stop:
		return StopSignal
	case <-ctx.Done():
		return StopCanceled
	default:
	}

	sample := domain.HeartbeatSample{
		EventID:       m.eventID,
		BookmakerCode: m.bookmaker,
		SampledAt:     m.now().UTC(),
	}
	if err != nil {
		m.logger.WarnContext(ctx, "status poll failed", slog.String("error", err.Error()))
		sample.State = domain.HeartbeatUnknown
		sample.Reason = fmt.Sprintf("%s: %v", domain.ErrPollUnknown, err)
	} else {
		if reading.Ended {
			return StopEnded
		}
		sample.State = reading.State()
		sample.Clock = reading.Clock
		sample.Reason = reading.Reason
	}

	if _, err := m.store.AppendSample(ctx, sample); err != nil {
		m.logger.WarnContext(ctx, "append heartbeat sample failed", slog.String("error", err.Error()))
		return ""
	}

	m.mu.Lock()
	m.state = sample.State
	m.tally.Add(sample.State)
	total := m.tally.Total()
	m.mu.Unlock()

	if err := m.notifier.HeartbeatUpdated(ctx, m.eventID, m.bookmaker, sample.State); err != nil {
		m.logger.WarnContext(ctx, "heartbeat notification failed", slog.String("error", err.Error()))
	}

	if m.cfg.SnapshotEvery > 0 && total%m.cfg.SnapshotEvery == 0 {
		if err := m.snapshot(ctx); err != nil {
			m.logger.WarnContext(ctx, "heartbeat snapshot failed", slog.String("error", err.Error()))
		}
	}
	return ""
}

// snapshot persists the stats of the current tally unless no sample has
// landed since the previous snapshot.
func (m *Monitor) snapshot(ctx context.Context) error {
	m.mu.Lock()
	t := m.tally
	fresh := t.Total() > m.snapped
	m.mu.Unlock()
	if !fresh {
		return nil
	}

	st := ComputeStats(t, m.cfg.PollInterval, m.now().UTC())
	st.EventID = m.eventID
	st.BookmakerCode = m.bookmaker
	if err := m.store.AppendStats(ctx, st); err != nil {
		return fmt.Errorf("heartbeat: append stats: %w", err)
	}

	m.mu.Lock()
	m.snapped = t.Total()
	m.mu.Unlock()
	return nil
}
