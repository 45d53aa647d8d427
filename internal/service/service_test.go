package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	cachemem "github.com/alanyoungcy/oddsbot/internal/cache/memory"
	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/odds"
	"github.com/alanyoungcy/oddsbot/internal/store/memory"
)

type fixture struct {
	db    *memory.DB
	cache *cachemem.EventCache
	agg   *Aggregator
	query *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	cache := cachemem.NewEventCache(time.Minute)
	f := &fixture{
		db:    db,
		cache: cache,
		agg:   NewAggregator(db.Events(), cache, cachemem.NewLockManager(), logger),
		query: NewQueryService(QueryStores{
			Bookmakers: db.Bookmakers(),
			Events:     db.Events(),
			Mappings:   db.Mappings(),
			Unmapped:   db.Unmapped(),
			History:    db.OddsHistory(),
			Margins:    db.TournamentMargins(),
			Heartbeats: db.Heartbeats(),
		}, cache, logger),
	}
	if err := db.Events().Create(context.Background(), domain.CanonicalEvent{
		EventID:    "evt_1",
		HomeTeam:   "Manchester United",
		AwayTeam:   "Arsenal",
		Country:    "England",
		Tournament: "Premier League",
		Kickoff:    time.Date(2024, 3, 9, 19, 45, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestAggregatorBestOddsAndMargins(t *testing.T) {
	orders := map[string][]string{
		"X then Y": {"X", "Y"},
		"Y then X": {"Y", "X"},
	}
	quotes := map[string]domain.OutcomeOdds{
		"X": domain.NewOutcomeOdds(2.10, 3.40, 3.20),
		"Y": domain.NewOutcomeOdds(2.05, 3.50, 3.30),
	}
	wantPct := map[string]float64{"X": 8.28, "Y": 7.65}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			for _, bk := range order {
				res, err := f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: bk, Odds: quotes[bk], ObservedAt: time.Now()})
				if err != nil {
					t.Fatalf("Apply %s: %v", bk, err)
				}
				if res.Entry.MarginPct == nil || math.Abs(*res.Entry.MarginPct-wantPct[bk]) > 0.01 {
					t.Errorf("%s margin pct = %v, want ≈%.2f", bk, res.Entry.MarginPct, wantPct[bk])
				}
			}

			e, _ := f.db.Events().Get(ctx, "evt_1")
			want := domain.BestOdds{
				domain.OutcomeHome: {Price: 2.10, Bookmaker: "X"},
				domain.OutcomeDraw: {Price: 3.50, Bookmaker: "Y"},
				domain.OutcomeAway: {Price: 3.30, Bookmaker: "Y"},
			}
			for out, w := range want {
				if e.BestOdds[out] != w {
					t.Errorf("%s best = %+v, want %+v", out, e.BestOdds[out], w)
				}
			}
			if len(e.OddsData) != 2 {
				t.Errorf("expected odds from 2 bookmakers, got %d", len(e.OddsData))
			}

			hist, _ := f.db.OddsHistory().ListByEvent(ctx, "evt_1", "", domain.ListOpts{})
			if len(hist) != 2 {
				t.Errorf("expected 2 history rows, got %d", len(hist))
			}
		})
	}
}

func TestAggregatorIncompleteOdds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	home := 2.5

	res, err := f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: "X", Odds: domain.OutcomeOdds{Home: &home}})
	if err != nil {
		t.Fatalf("incomplete odds must not fail Apply: %v", err)
	}
	if res.Entry.Margin != nil || res.Entry.MarginPct != nil {
		t.Error("expected nil margin")
	}
	if got := res.Event.BestOdds[domain.OutcomeHome]; got.Price != 2.5 {
		t.Errorf("best home = %+v", got)
	}
	if _, ok := res.Event.BestOdds[domain.OutcomeDraw]; ok {
		t.Error("draw must be absent from best odds")
	}
}

func TestAggregatorReplacesBookmakerOdds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _ = f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: "X", Odds: domain.NewOutcomeOdds(3.0, 3.0, 3.0)})
	res, err := f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: "X", Odds: domain.NewOutcomeOdds(1.5, 4.0, 6.0)})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Event.BestOdds[domain.OutcomeHome].Price; got != 1.5 {
		t.Errorf("stale price kept in best odds: %v", got)
	}
	hist, _ := f.db.OddsHistory().ListByEvent(ctx, "evt_1", "X", domain.ListOpts{})
	if len(hist) != 2 {
		t.Errorf("history must keep both snapshots, got %d", len(hist))
	}
}

func TestAggregatorConcurrentBookmakers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	codes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			p := 2.0 + float64(i)/10
			if _, err := f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: code, Odds: domain.NewOutcomeOdds(p, 3, 4)}); err != nil {
				t.Errorf("Apply %s: %v", code, err)
			}
		}(i, code)
	}
	wg.Wait()

	e, _ := f.db.Events().Get(ctx, "evt_1")
	if len(e.OddsData) != len(codes) {
		t.Fatalf("lost updates: %d of %d bookmakers present", len(e.OddsData), len(codes))
	}
	if best := e.BestOdds[domain.OutcomeHome]; best.Bookmaker != "h" {
		t.Errorf("best home = %+v, want bookmaker h", best)
	}
}

func TestAggregatorUnknownEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.agg.Apply(context.Background(), Quote{EventID: "nope", BookmakerCode: "X"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregatorLockTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	locks := cachemem.NewLockManager()
	agg := NewAggregator(db.Events(), cachemem.NewEventCache(0), locks, logger)

	unlock, _ := locks.Acquire(context.Background(), "event:evt_1", time.Minute)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: "X"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while lock held, got %v", err)
	}
}

func TestQueryServiceCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.query.GetEvent(ctx, "evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.OddsData) != 0 {
		t.Fatalf("unexpected odds %v", e.OddsData)
	}
	if f.cache.Len() != 1 {
		t.Fatal("event not back-filled into cache")
	}

	if _, err := f.agg.Apply(ctx, Quote{EventID: "evt_1", BookmakerCode: "X", Odds: domain.NewOutcomeOdds(2, 3, 4)}); err != nil {
		t.Fatal(err)
	}
	if f.cache.Len() != 0 {
		t.Error("history write did not invalidate the cache")
	}

	e, _ = f.query.GetEvent(ctx, "evt_1")
	if len(e.OddsData) != 1 {
		t.Errorf("stale event served after write: %+v", e.OddsData)
	}

	if _, err := f.query.GetEvent(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.query.OddsHistory(ctx, "missing", "", domain.ListOpts{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for history of unknown event, got %v", err)
	}
}

func TestTournamentAggregatorRecord(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	ta := NewTournamentAggregator(db.TournamentMargins(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	pct := func(f float64) *float64 { return &f }

	points, err := ta.Record(ctx, []odds.Contribution{
		{Country: "England", Tournament: "Premier League", BookmakerCode: "X", EventID: "e1", MarginPct: pct(8)},
		{Country: "England", Tournament: "Premier League", BookmakerCode: "X", EventID: "e2", MarginPct: pct(6)},
	}, at)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].AvgMarginPct != 7 || points[0].EventCount != 2 {
		t.Fatalf("unexpected points %+v", points)
	}

	// A cycle without margins writes nothing.
	if _, err := ta.Record(ctx, []odds.Contribution{{Country: "England", Tournament: "Premier League", BookmakerCode: "X", EventID: "e3"}}, at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	stored, _ := db.TournamentMargins().List(ctx, domain.TournamentFilter{})
	if len(stored) != 1 {
		t.Errorf("expected 1 stored point, got %d", len(stored))
	}
}
