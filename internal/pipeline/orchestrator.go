// Package pipeline schedules bookmaker ingestion runs, turns scraped batches
// into canonical event updates, and archives old history to cold storage.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// ErrNotRunning is returned by TriggerAll when the scheduler is not running.
var ErrNotRunning = errors.New("pipeline: orchestrator not running")

// Config tunes the orchestrator.
type Config struct {
	Interval      time.Duration // default schedule per bookmaker
	Workers       int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RunTimeout    time.Duration
	CommitTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      15 * time.Minute,
		Workers:       4,
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		RunTimeout:    5 * time.Minute,
		CommitTimeout: 30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay·2^(attempt-1), capped at MaxDelay.
func (c Config) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// CycleResult summarizes one RunCycle call.
type CycleResult struct {
	Bookmaker   string
	Attempts    int
	Status      domain.BookmakerStatus
	PayloadSize int64
	Ingest      IngestResult
}

// Orchestrator runs each active bookmaker's adapter on its own schedule
// through a bounded worker pool. A bookmaker never has more than one run
// queued or in flight; a tick that finds one is skipped.
type Orchestrator struct {
	bookmakers domain.BookmakerStore
	adapters   map[string]domain.BookmakerAdapter
	intervals  map[string]time.Duration
	ingester   *Ingester
	locks      domain.LockManager
	notifier   domain.NotificationChannel
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	running  map[string]bool // in RunCycle
	pending  map[string]bool // dispatched, queued or running
	sem      *semaphore.Weighted
	runCtx   context.Context
	inFlight sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. intervals overrides cfg.Interval
// per bookmaker code.
func NewOrchestrator(
	bookmakers domain.BookmakerStore,
	adapters map[string]domain.BookmakerAdapter,
	intervals map[string]time.Duration,
	ingester *Ingester,
	locks domain.LockManager,
	notifier domain.NotificationChannel,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = def.CommitTimeout
	}
	return &Orchestrator{
		bookmakers: bookmakers,
		adapters:   adapters,
		intervals:  intervals,
		ingester:   ingester,
		locks:      locks,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
		now:        time.Now,
		sleep:      sleepCtx,
		running:    make(map[string]bool),
		pending:    make(map[string]bool),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// RunCycle performs one ingestion run for bookmakerCode. It returns
// domain.ErrCycleInFlight without doing anything if a run for the same
// bookmaker holds the in-process or the distributed lock.
func (o *Orchestrator) RunCycle(ctx context.Context, bookmakerCode string) (CycleResult, error) {
	res := CycleResult{Bookmaker: bookmakerCode}

	adapter, ok := o.adapters[bookmakerCode]
	if !ok {
		return res, fmt.Errorf("pipeline: no adapter for bookmaker %s: %w", bookmakerCode, domain.ErrNotFound)
	}

	o.mu.Lock()
	if o.running[bookmakerCode] {
		o.mu.Unlock()
		return res, domain.ErrCycleInFlight
	}
	o.running[bookmakerCode] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, bookmakerCode)
		o.mu.Unlock()
	}()

	unlock, err := o.locks.Acquire(ctx, "ingest:"+bookmakerCode, o.cfg.RunTimeout+o.cfg.CommitTimeout)
	if errors.Is(err, domain.ErrLockHeld) {
		return res, domain.ErrCycleInFlight
	}
	if err != nil {
		return res, fmt.Errorf("pipeline: lock %s: %w", bookmakerCode, err)
	}
	defer unlock()

	log := o.logger.With(slog.String("bookmaker", bookmakerCode))
	if err := o.bookmakers.SetStatus(ctx, bookmakerCode, domain.BookmakerRunning); err != nil {
		log.WarnContext(ctx, "set running status", slog.String("error", err.Error()))
	}

	records, attempts, scrapeErr := o.scrape(ctx, adapter, bookmakerCode, log)
	res.Attempts = attempts
	if scrapeErr != nil {
		return o.fail(ctx, res, scrapeErr, log)
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return o.fail(ctx, res, fmt.Errorf("encode batch: %w", err), log)
	}
	res.PayloadSize = int64(len(payload))

	ingestCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	ingested, err := o.ingester.Ingest(ingestCtx, bookmakerCode, records)
	cancel()
	res.Ingest = ingested
	if err != nil {
		if nerr := o.notifier.CycleFailed(ctx, bookmakerCode, err.Error(), attempts); nerr != nil {
			log.WarnContext(ctx, "cycle failure not published", slog.String("error", nerr.Error()))
		}
		return o.fail(ctx, res, err, log)
	}

	now := o.now().UTC()
	report := domain.RunReport{
		Status:      domain.BookmakerOK,
		RanAt:       now,
		NextRunAt:   now.Add(o.interval(bookmakerCode)),
		EventCount:  ingested.Applied,
		PayloadSize: res.PayloadSize,
	}
	if err := o.bookmakers.RecordRun(context.WithoutCancel(ctx), bookmakerCode, report); err != nil {
		log.ErrorContext(ctx, "record run", slog.String("error", err.Error()))
	}
	res.Status = domain.BookmakerOK

	if err := o.notifier.CycleCompleted(ctx, bookmakerCode, ingested.Applied); err != nil {
		log.WarnContext(ctx, "cycle completion not published", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "cycle completed",
		slog.Int("attempts", attempts),
		slog.Int("events", ingested.Applied),
		slog.Int64("payload_bytes", res.PayloadSize),
	)
	return res, nil
}

// scrape calls the adapter up to MaxAttempts times. Every failed attempt is
// published. Schema failures are not retried.
func (o *Orchestrator) scrape(ctx context.Context, adapter domain.BookmakerAdapter, code string, log *slog.Logger) ([]domain.RawMatchRecord, int, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
		records, err := adapter.Scrape(runCtx, code)
		cancel()
		if err == nil {
			return records, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err

		log.WarnContext(ctx, "scrape attempt failed",
			slog.Int("attempt", attempt),
			slog.Bool("schema", domain.IsSchema(err)),
			slog.String("error", err.Error()),
		)
		if nerr := o.notifier.CycleFailed(ctx, code, err.Error(), attempt); nerr != nil {
			log.WarnContext(ctx, "cycle failure not published", slog.String("error", nerr.Error()))
		}

		if domain.IsSchema(err) {
			return nil, attempt, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}
		if err := o.sleep(ctx, o.cfg.Backoff(attempt)); err != nil {
			return nil, attempt, err
		}
	}
	return nil, o.cfg.MaxAttempts, lastErr
}

// fail records the run as failed and returns err. The bookmaker's schedule
// keeps running; the next tick tries again.
func (o *Orchestrator) fail(ctx context.Context, res CycleResult, err error, log *slog.Logger) (CycleResult, error) {
	now := o.now().UTC()
	report := domain.RunReport{
		Status:    domain.BookmakerError,
		Error:     err.Error(),
		RanAt:     now,
		NextRunAt: now.Add(o.interval(res.Bookmaker)),
	}
	if rerr := o.bookmakers.RecordRun(context.WithoutCancel(ctx), res.Bookmaker, report); rerr != nil {
		log.ErrorContext(ctx, "record run", slog.String("error", rerr.Error()))
	}
	res.Status = domain.BookmakerError
	log.ErrorContext(ctx, "cycle failed",
		slog.Int("attempts", res.Attempts),
		slog.String("error", err.Error()),
	)
	return res, fmt.Errorf("pipeline: cycle %s: %w", res.Bookmaker, err)
}

// Run schedules every active bookmaker that has an adapter until ctx is
// cancelled. Each bookmaker runs once immediately and then on its interval.
// Run waits for in-flight cycles before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	active, err := o.bookmakers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: list active bookmakers: %w", err)
	}

	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.runCtx = nil
		o.mu.Unlock()
		o.inFlight.Wait()
	}()

	g, gctx := errgroup.WithContext(ctx)
	scheduled := 0
	for _, b := range active {
		code := b.Code
		if _, ok := o.adapters[code]; !ok {
			o.logger.WarnContext(ctx, "active bookmaker has no adapter", slog.String("bookmaker", code))
			continue
		}
		scheduled++
		interval := o.interval(code)
		g.Go(func() error {
			o.dispatch(gctx, code)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					o.dispatch(gctx, code)
				}
			}
		})
	}

	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Int("bookmakers", scheduled),
		slog.Int("workers", o.cfg.Workers),
	)
	err = g.Wait()
	o.logger.InfoContext(ctx, "orchestrator stopped")
	return err
}

// TriggerAll queues an out-of-schedule run for every active bookmaker. It
// returns the codes queued and the codes skipped because a run was already
// queued or in flight.
func (o *Orchestrator) TriggerAll(ctx context.Context) (queued, skipped []string, err error) {
	o.mu.Lock()
	runCtx := o.runCtx
	o.mu.Unlock()
	if runCtx == nil {
		return nil, nil, ErrNotRunning
	}

	active, err := o.bookmakers.ListActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: list active bookmakers: %w", err)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Code < active[j].Code })
	for _, b := range active {
		if _, ok := o.adapters[b.Code]; !ok {
			continue
		}
		if o.dispatch(runCtx, b.Code) {
			queued = append(queued, b.Code)
		} else {
			skipped = append(skipped, b.Code)
		}
	}
	return queued, skipped, nil
}

// dispatch queues a run for code on the worker pool. It reports false and
// does nothing if one is already pending or the scheduler has stopped.
func (o *Orchestrator) dispatch(ctx context.Context, code string) bool {
	o.mu.Lock()
	if o.runCtx == nil {
		o.mu.Unlock()
		return false
	}
	if o.pending[code] {
		o.mu.Unlock()
		o.logger.InfoContext(ctx, "run already pending, tick skipped", slog.String("bookmaker", code))
		return false
	}
	o.pending[code] = true
	o.inFlight.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.inFlight.Done()
		defer func() {
			o.mu.Lock()
			delete(o.pending, code)
			o.mu.Unlock()
		}()

		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		if _, err := o.RunCycle(ctx, code); errors.Is(err, domain.ErrCycleInFlight) {
			o.logger.InfoContext(ctx, "run in flight elsewhere, skipped", slog.String("bookmaker", code))
		}
	}()
	return true
}

func (o *Orchestrator) interval(code string) time.Duration {
	if d, ok := o.intervals[code]; ok && d > 0 {
		return d
	}
	return o.cfg.Interval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
