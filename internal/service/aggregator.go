// Package service holds the odds aggregation services and the read-side
// query service.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/odds"
)

const (
	defaultEventLockTTL  = 30 * time.Second
	defaultEventLockPoll = 25 * time.Millisecond
)

// Quote is one bookmaker's odds for one canonical event.
type Quote struct {
	EventID       string
	BookmakerCode string
	Odds          domain.OutcomeOdds
	ObservedAt    time.Time
}

// Applied is the result of merging a quote.
type Applied struct {
	Entry domain.OddsHistoryEntry
	Event domain.CanonicalEvent
}

// Aggregator merges bookmaker quotes into canonical events. Updates to one
// event are serialized through the lock manager so the best-odds recompute
// never interleaves with another bookmaker's write.
type Aggregator struct {
	events   domain.EventStore
	cache    domain.EventCache
	locks    domain.LockManager
	lockTTL  time.Duration
	lockPoll time.Duration
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(
	events domain.EventStore,
	cache domain.EventCache,
	locks domain.LockManager,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		events:   events,
		cache:    cache,
		locks:    locks,
		lockTTL:  defaultEventLockTTL,
		lockPoll: defaultEventLockPoll,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// Apply replaces the bookmaker's odds on the event, recomputes the best
// odds, and writes the event together with a new history entry. The margin
// on the entry is nil when the triple is incomplete.
func (a *Aggregator) Apply(ctx context.Context, q Quote) (Applied, error) {
	if q.EventID == "" || q.BookmakerCode == "" {
		return Applied{}, errors.New("aggregator: quote has no event or bookmaker")
	}

	unlock, err := acquireWait(ctx, a.locks, "event:"+q.EventID, a.lockTTL, a.lockPoll)
	if err != nil {
		return Applied{}, fmt.Errorf("aggregator: lock event %s: %w", q.EventID, err)
	}
	defer unlock()

	e, err := a.events.Get(ctx, q.EventID)
	if err != nil {
		return Applied{}, fmt.Errorf("aggregator: load event %s: %w", q.EventID, err)
	}

	if e.OddsData == nil {
		e.OddsData = make(map[string]domain.OutcomeOdds)
	}
	e.OddsData[q.BookmakerCode] = q.Odds
	e.BestOdds = odds.BestOdds(e.OddsData)

	observed := q.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	e.UpdatedAt = observed

	margin, pct := odds.MarginPtrs(q.Odds)
	if margin == nil {
		a.logger.DebugContext(ctx, "margin skipped",
			slog.String("event_id", q.EventID),
			slog.String("bookmaker", q.BookmakerCode),
			slog.String("reason", domain.ErrIncompleteOdds.Error()),
		)
	}

	entry, err := a.events.SaveOdds(ctx, e, domain.OddsHistoryEntry{
		EventID:       q.EventID,
		BookmakerCode: q.BookmakerCode,
		Odds:          q.Odds,
		Margin:        margin,
		MarginPct:     pct,
		RecordedAt:    observed,
	})
	if err != nil {
		return Applied{}, fmt.Errorf("aggregator: save odds %s/%s: %w", q.EventID, q.BookmakerCode, err)
	}

	if err := a.cache.Invalidate(ctx, q.EventID); err != nil {
		a.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("event_id", q.EventID),
			slog.String("error", err.Error()),
		)
	}

	return Applied{Entry: entry, Event: e}, nil
}

// acquireWait polls the lock manager until key is free or ctx is done.
func acquireWait(ctx context.Context, locks domain.LockManager, key string, ttl, poll time.Duration) (func(), error) {
	for {
		unlock, err := locks.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
