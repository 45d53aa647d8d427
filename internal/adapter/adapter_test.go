package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/adapter"
	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/store/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleFeed = `[
  {"eventId": 4711, "country": "England", "tournament": "Premier League",
   "event": "Man Utd - Liverpool", "home_odds": "2.10", "draw_odds": 3.4, "away_odds": "3.30",
   "start_time": "2024-03-10 16:30"},
  {"eventId": "x-2", "country": "Spain", "tournament": "LaLiga",
   "event": "Real Madrid vs Sevilla", "home_odds": "", "draw_odds": null, "away_odds": "5.0",
   "start_time": "2024-03-10T20:00:00Z"},
  {"eventId": "x-3", "market": "Over/Under 2.5", "event": "A - B",
   "start_time": "2024-03-10 20:00"},
  {"eventId": "x-4", "country": "Spain", "tournament": "LaLiga",
   "event": "no separator here", "start_time": "2024-03-10 20:00"},
  {"eventId": "x-5", "country": "Spain", "tournament": "LaLiga",
   "home": "Girona", "away": "Betis", "home_odds": "abc", "start_time": "2024-03-10 20:00"}
]`

func TestDecodeFeed(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	recs, err := adapter.DecodeFeed("bk1", []byte(sampleFeed), adapter.FeedFormat{Location: loc}, discard())
	if err != nil {
		t.Fatalf("DecodeFeed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	first := recs[0]
	if first.ExternalID != "4711" {
		t.Errorf("ExternalID = %q, want 4711", first.ExternalID)
	}
	if first.HomeTeam != "Man Utd" || first.AwayTeam != "Liverpool" {
		t.Errorf("teams = %q / %q", first.HomeTeam, first.AwayTeam)
	}
	if first.Sport != "football" {
		t.Errorf("Sport = %q, want football", first.Sport)
	}
	wantKickoff := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)
	if !first.Kickoff.Equal(wantKickoff) {
		t.Errorf("Kickoff = %v, want %v", first.Kickoff, wantKickoff)
	}
	if first.Odds.Home == nil || *first.Odds.Home != 2.10 {
		t.Errorf("Home odds = %v", first.Odds.Home)
	}
	if first.Odds.Draw == nil || *first.Odds.Draw != 3.4 {
		t.Errorf("Draw odds = %v", first.Odds.Draw)
	}

	second := recs[1]
	if second.Odds.Home != nil || second.Odds.Draw != nil {
		t.Errorf("empty legs should be nil, got %v %v", second.Odds.Home, second.Odds.Draw)
	}
	if second.Odds.Away == nil || *second.Odds.Away != 5.0 {
		t.Errorf("Away odds = %v", second.Odds.Away)
	}
	if second.HomeTeam != "Real Madrid" || second.AwayTeam != "Sevilla" {
		t.Errorf("teams = %q / %q", second.HomeTeam, second.AwayTeam)
	}
}

func TestDecodeFeed_NotArray(t *testing.T) {
	for _, body := range []string{``, `{"eventId": 1}`, `not json`, `[1, 2`} {
		_, err := adapter.DecodeFeed("bk1", []byte(body), adapter.FeedFormat{}, discard())
		if !domain.IsSchema(err) {
			t.Errorf("body %q: expected schema error, got %v", body, err)
		}
	}
}

func TestDecodeFeedProviderIDs(t *testing.T) {
	tests := []struct {
		name       string
		row        string
		format     adapter.FeedFormat
		wantExtID  string
		wantProvID string
	}{
		{
			name: "original event id carries the sportradar match",
			row: `{"eventId": "1001234567", "originalEventId": "sr:match:50850679", "country": "Croatia",
			       "tournament": "HNL", "event": "Dinamo Zagreb vs Hajduk Split", "home": "Dinamo Zagreb",
			       "away": "Hajduk Split", "market": "1X2", "home_odds": "1.85", "draw_odds": "3.60",
			       "away_odds": "4.20", "start_time": "2024-05-01T18:00:00Z"}`,
			wantExtID:  "1001234567",
			wantProvID: "50850679",
		},
		{
			name: "event id is a sportradar id",
			row: `{"eventId": "sr:match:50850679", "country": "Croatia", "tournament": "HNL",
			       "event": "Dinamo Zagreb - Hajduk Split", "home_odds": 1.8, "draw_odds": 3.5,
			       "away_odds": 4.3, "start_time": "2024-05-01 18:00"}`,
			wantExtID:  "sr:match:50850679",
			wantProvID: "50850679",
		},
		{
			name: "widget id on a provider feed",
			row: `{"eventId": 50850679, "country": "Croatia", "tournament": "1. HNL",
			       "event": "GNK Dinamo - HNK Hajduk", "home_odds": "1.90", "draw_odds": "3.40",
			       "away_odds": "4.00", "start_time": "2024-05-01 18:00"}`,
			format:     adapter.FeedFormat{ProviderEventIDs: true},
			wantExtID:  "50850679",
			wantProvID: "50850679",
		},
		{
			name: "numeric id on a plain feed",
			row: `{"eventId": 50850679, "country": "Croatia", "tournament": "1. HNL",
			       "event": "GNK Dinamo - HNK Hajduk", "home_odds": "1.90", "draw_odds": "3.40",
			       "away_odds": "4.00", "start_time": "2024-05-01 18:00"}`,
			wantExtID: "50850679",
		},
		{
			name: "provider feed with a non numeric id",
			row: `{"eventId": "evt-77", "country": "Croatia", "tournament": "HNL",
			       "event": "Dinamo Zagreb - Hajduk Split", "home_odds": "1.90", "draw_odds": "3.40",
			       "away_odds": "4.00", "start_time": "2024-05-01 18:00"}`,
			format:    adapter.FeedFormat{ProviderEventIDs: true},
			wantExtID: "evt-77",
		},
		{
			name: "explicit provider id",
			row: `{"eventId": "x-1", "providerId": "sr:match:50850679", "country": "Croatia",
			       "tournament": "HNL", "event": "Dinamo Zagreb - Hajduk Split", "home_odds": "1.90",
			       "draw_odds": "3.40", "away_odds": "4.00", "start_time": "2024-05-01 18:00"}`,
			wantExtID:  "x-1",
			wantProvID: "50850679",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := adapter.DecodeFeed("bk1", []byte("["+tt.row+"]"), tt.format, discard())
			if err != nil {
				t.Fatalf("DecodeFeed: %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("got %d records, want 1", len(recs))
			}
			if recs[0].ExternalID != tt.wantExtID {
				t.Errorf("ExternalID = %q, want %q", recs[0].ExternalID, tt.wantExtID)
			}
			if recs[0].ProviderID != tt.wantProvID {
				t.Errorf("ProviderID = %q, want %q", recs[0].ProviderID, tt.wantProvID)
			}
		})
	}
}

func TestFileAdapter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.json")

	a := adapter.NewFileAdapter(path, adapter.FeedFormat{}, discard())

	_, err := a.Scrape(context.Background(), "bk1")
	if !domain.IsTransient(err) || domain.IsSchema(err) {
		t.Fatalf("missing file: expected transient error, got %v", err)
	}

	if err := os.WriteFile(path, []byte(sampleFeed), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := a.Scrape(context.Background(), "bk1")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}

	if err := os.WriteFile(path, []byte(`{"oops": true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Scrape(context.Background(), "bk1"); !domain.IsSchema(err) {
		t.Errorf("expected schema error, got %v", err)
	}
}

func feedPage(start, n int) string {
	body := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		id := start + i
		body += fmt.Sprintf(`{"eventId":"e%d","country":"C","tournament":"T","event":"Home%d - Away%d",`+
			`"home_odds":"2.0","draw_odds":"3.0","away_odds":"4.0","start_time":"2024-03-10 20:00"}`, id, id, id)
	}
	return body + "]"
}

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.waits.Add(1)
	return nil
}

func TestHTTPAdapter_Pages(t *testing.T) {
	const total = 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		take, _ := strconv.Atoi(r.URL.Query().Get("take"))
		n := total - skip
		if n > take {
			n = take
		}
		if n < 0 {
			n = 0
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, feedPage(skip, n))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	a := adapter.NewHTTPAdapter(srv.URL, 2, adapter.FeedFormat{}, srv.Client(), lim, discard())

	recs, err := a.Scrape(context.Background(), "bk1")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(recs) != total {
		t.Fatalf("got %d records, want %d", len(recs), total)
	}
	if recs[4].ExternalID != "e4" {
		t.Errorf("last record = %q, want e4", recs[4].ExternalID)
	}
	// Pages: [0,1] [2,3] [4]; the limiter is consulted before pages 2 and 3.
	if got := lim.waits.Load(); got != 2 {
		t.Errorf("limiter waits = %d, want 2", got)
	}
}

func TestHTTPAdapter_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		transient bool
	}{
		{http.StatusTooManyRequests, "", true},
		{http.StatusBadGateway, "", true},
		{http.StatusServiceUnavailable, "", true},
		{http.StatusNotFound, "", false},
		{http.StatusForbidden, "", false},
		{http.StatusOK, `{"not":"an array"}`, false},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := adapter.NewHTTPAdapter(srv.URL, 10, adapter.FeedFormat{}, srv.Client(), nil, discard())
			_, err := a.Scrape(context.Background(), "bk1")
			if err == nil {
				t.Fatal("expected error")
			}
			var ae *domain.AdapterError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AdapterError, got %T", err)
			}
			if domain.IsTransient(err) != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", domain.IsTransient(err), tt.transient, err)
			}
		})
	}
}

func TestHTTPAdapter_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := adapter.NewHTTPAdapter(url, 10, adapter.FeedFormat{}, &http.Client{Timeout: time.Second}, nil, discard())
	_, err := a.Scrape(context.Background(), "bk1")
	if !domain.IsTransient(err) || domain.IsSchema(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := adapter.NewRegistry()

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != adapter.KindFile || kinds[1] != adapter.KindHTTPJSON {
		t.Errorf("Kinds = %v", kinds)
	}

	tests := []struct {
		name    string
		spec    adapter.Spec
		wantErr bool
	}{
		{"file", adapter.Spec{Code: "a", Kind: adapter.KindFile, Path: "/tmp/a.json"}, false},
		{"file without path", adapter.Spec{Code: "a", Kind: adapter.KindFile}, true},
		{"http", adapter.Spec{Code: "b", Kind: adapter.KindHTTPJSON, URL: "http://example.invalid/feed"}, false},
		{"http without url", adapter.Spec{Code: "b", Kind: adapter.KindHTTPJSON}, true},
		{"unknown kind", adapter.Spec{Code: "c", Kind: "carrier-pigeon"}, true},
		{"bad timezone", adapter.Spec{Code: "a", Kind: adapter.KindFile, Path: "x", Timezone: "Mars/Olympus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.Build(tt.spec, adapter.Deps{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && a == nil {
				t.Error("nil adapter")
			}
		})
	}
}

func TestHTTPStatusAdapter(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	if err := db.Mappings().Upsert(ctx, domain.EventMapping{
		BookmakerCode: "bk1",
		ExternalID:    "ext/42",
		EventID:       "evt_1",
		MatchKey:      "football|a|b",
	}); err != nil {
		t.Fatal(err)
	}

	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"available": false, "clock": "63:12", "suspendedReason": "goal", "ended": false}`)
	}))
	defer srv.Close()

	a := adapter.NewHTTPStatusAdapter(srv.URL+"/", db.Mappings(), srv.Client())

	reading, err := a.PollStatus(ctx, "evt_1", "bk1")
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if reading.State() != domain.HeartbeatSuspended {
		t.Errorf("State = %v, want suspended", reading.State())
	}
	if reading.Clock != "63:12" || reading.Reason != "goal" {
		t.Errorf("reading = %+v", reading)
	}
	if p, _ := gotPath.Load().(string); p != "/ext%2F42" {
		t.Errorf("path = %q, want /ext%%2F42", p)
	}

	if _, err := a.PollStatus(ctx, "evt_1", "bk2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unmapped bookmaker: expected ErrNotFound, got %v", err)
	}
}
