package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

func TestEventStoreCreateAndSaveOdds(t *testing.T) {
	ctx := context.Background()
	db := New()
	events := db.Events()

	kick := time.Date(2024, 3, 9, 19, 45, 0, 0, time.UTC)
	e := domain.CanonicalEvent{EventID: "evt_1", HomeTeam: "A", AwayTeam: "B", Kickoff: kick}
	if err := events.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := events.Create(ctx, e); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	e.OddsData = map[string]domain.OutcomeOdds{"X": domain.NewOutcomeOdds(2, 3, 4)}
	entry, err := events.SaveOdds(ctx, e, domain.OddsHistoryEntry{EventID: "evt_1", BookmakerCode: "X", RecordedAt: kick})
	if err != nil {
		t.Fatalf("SaveOdds: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected history id to be assigned")
	}

	// Mutating the caller's copy must not leak into the store.
	*e.OddsData["X"].Home = 99

	got, err := events.Get(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h, _ := got.OddsData["X"].Leg(domain.OutcomeHome); h != 2 {
		t.Errorf("stored odds aliased caller memory: home = %v", h)
	}

	hist, _ := db.OddsHistory().ListByEvent(ctx, "evt_1", "", domain.ListOpts{})
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}

	_, err = events.SaveOdds(ctx, domain.CanonicalEvent{EventID: "missing"}, domain.OddsHistoryEntry{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown event, got %v", err)
	}
}

func TestEventStoreSaveOddsKeepsKickoff(t *testing.T) {
	ctx := context.Background()
	events := New().Events()

	kick := time.Date(2024, 3, 9, 19, 45, 0, 0, time.UTC)
	tightened := kick.Add(15 * time.Minute)
	if err := events.Create(ctx, domain.CanonicalEvent{EventID: "evt_1", HomeTeam: "A", AwayTeam: "B", Kickoff: kick}); err != nil {
		t.Fatal(err)
	}

	stale, err := events.Get(ctx, "evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if err := events.UpdateKickoff(ctx, "evt_1", tightened); err != nil {
		t.Fatalf("UpdateKickoff: %v", err)
	}

	observed := kick.Add(-time.Hour)
	stale.OddsData = map[string]domain.OutcomeOdds{"X": domain.NewOutcomeOdds(2, 3, 4)}
	stale.BestOdds = domain.BestOdds{domain.OutcomeHome: {Price: 2, Bookmaker: "X"}}
	stale.UpdatedAt = observed
	if _, err := events.SaveOdds(ctx, stale, domain.OddsHistoryEntry{EventID: "evt_1", BookmakerCode: "X"}); err != nil {
		t.Fatalf("SaveOdds: %v", err)
	}

	got, err := events.Get(ctx, "evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Kickoff.Equal(tightened) {
		t.Errorf("kickoff = %v, want %v kept from UpdateKickoff", got.Kickoff, tightened)
	}
	if _, ok := got.OddsData["X"]; !ok {
		t.Error("odds not saved")
	}
	if got.BestOdds[domain.OutcomeHome].Bookmaker != "X" {
		t.Errorf("best odds = %+v", got.BestOdds)
	}
	if !got.UpdatedAt.Equal(observed) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, observed)
	}
}

func TestEventStoreListLive(t *testing.T) {
	ctx := context.Background()
	events := New().Events()
	now := time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC)

	for id, k := range map[string]time.Time{
		"future":  now.Add(time.Minute),
		"live":    now.Add(-30 * time.Minute),
		"expired": now.Add(-131 * time.Minute),
	} {
		if err := events.Create(ctx, domain.CanonicalEvent{EventID: id, Kickoff: k}); err != nil {
			t.Fatal(err)
		}
	}

	live, err := events.ListLive(ctx, now, 130*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].EventID != "live" {
		t.Errorf("unexpected live events: %+v", live)
	}
}

func TestBookmakerStoreRecordRun(t *testing.T) {
	ctx := context.Background()
	bms := New().Bookmakers()

	if err := bms.Upsert(ctx, domain.Bookmaker{Code: "X", Name: "X Bet", Active: true}); err != nil {
		t.Fatal(err)
	}
	b, _ := bms.Get(ctx, "X")
	if b.Status != domain.BookmakerIdle {
		t.Errorf("new bookmaker status = %s, want Idle", b.Status)
	}

	now := time.Now().UTC()
	if err := bms.RecordRun(ctx, "X", domain.RunReport{Status: domain.BookmakerOK, RanAt: now, NextRunAt: now.Add(time.Minute), EventCount: 4, PayloadSize: 100}); err != nil {
		t.Fatal(err)
	}
	if err := bms.RecordRun(ctx, "X", domain.RunReport{Status: domain.BookmakerError, Error: "boom", RanAt: now}); err != nil {
		t.Fatal(err)
	}

	// Upsert from config must not reset health.
	if err := bms.Upsert(ctx, domain.Bookmaker{Code: "X", Name: "X Bet 2", Active: true}); err != nil {
		t.Fatal(err)
	}
	b, _ = bms.Get(ctx, "X")
	if b.Status != domain.BookmakerError || b.LastError != "boom" || b.LastEventCount != 4 || b.Name != "X Bet 2" {
		t.Errorf("unexpected bookmaker: %+v", b)
	}

	if err := bms.RecordRun(ctx, "nope", domain.RunReport{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnmappedStoreReplacesSameRecord(t *testing.T) {
	ctx := context.Background()
	s := New().Unmapped()
	rec := domain.RawMatchRecord{BookmakerCode: "X", ExternalID: "1"}

	for i := 0; i < 3; i++ {
		if err := s.Add(ctx, domain.UnmappedRecord{Record: rec, Reason: "ambiguous", CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	list, _ := s.List(ctx, domain.ListOpts{})
	if len(list) != 1 {
		t.Errorf("expected one unmapped record, got %d", len(list))
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		n, offset, limit int
		lo, hi           int
	}{
		{10, 0, 0, 0, 10},
		{10, 2, 3, 2, 5},
		{10, 8, 5, 8, 10},
		{10, 20, 5, 10, 10},
		{10, -1, 5, 0, 5},
	}
	for _, tt := range tests {
		lo, hi := page(tt.n, tt.offset, tt.limit)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("page(%d,%d,%d) = %d,%d want %d,%d", tt.n, tt.offset, tt.limit, lo, hi, tt.lo, tt.hi)
		}
	}
}
