package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	memcache "github.com/alanyoungcy/oddsbot/internal/cache/memory"
	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/heartbeat"
	"github.com/alanyoungcy/oddsbot/internal/pipeline"
	"github.com/alanyoungcy/oddsbot/internal/server"
	"github.com/alanyoungcy/oddsbot/internal/server/handler"
	"github.com/alanyoungcy/oddsbot/internal/server/ws"
	"github.com/alanyoungcy/oddsbot/internal/service"
	"github.com/alanyoungcy/oddsbot/internal/store/memory"
)

type fakeTrigger struct {
	queued, skipped []string
	err             error
}

func (f *fakeTrigger) TriggerAll(context.Context) ([]string, []string, error) {
	return f.queued, f.skipped, f.err
}

type fakeMonitors struct {
	stopped []string
}

func (f *fakeMonitors) Stop(eventID string) int {
	f.stopped = append(f.stopped, eventID)
	return 2
}

func (f *fakeMonitors) Active() []heartbeat.MonitorInfo {
	return []heartbeat.MonitorInfo{{EventID: "evt_a", BookmakerCode: "bk1", State: domain.HeartbeatAvailable, Samples: 3}}
}

type env struct {
	db       *memory.DB
	bus      *memcache.SignalBus
	trigger  *fakeTrigger
	monitors *fakeMonitors
	srv      *httptest.Server
	cancel   context.CancelFunc
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEnv(t *testing.T, cfg server.Config, checks map[string]handler.HealthCheck) *env {
	t.Helper()
	logger := discard()
	db := memory.New()
	bus := memcache.NewSignalBus(100)
	query := service.NewQueryService(service.QueryStores{
		Bookmakers: db.Bookmakers(),
		Events:     db.Events(),
		Mappings:   db.Mappings(),
		Unmapped:   db.Unmapped(),
		History:    db.OddsHistory(),
		Margins:    db.TournamentMargins(),
		Heartbeats: db.Heartbeats(),
	}, memcache.NewEventCache(time.Minute), logger)

	e := &env{db: db, bus: bus, trigger: &fakeTrigger{}, monitors: &fakeMonitors{}}
	hub := ws.NewHub(bus, ws.Config{Mode: "server"}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go hub.Run(ctx)

	h := server.Routes(cfg, server.Handlers{
		Health:    handler.NewHealthHandler("server", checks, logger),
		Events:    handler.NewEventHandler(query, logger),
		Pipeline:  handler.NewPipelineHandler(e.trigger, logger),
		Heartbeat: handler.NewHeartbeatHandler(e.monitors, logger),
	}, hub, memcache.NewRateLimiter(1, time.Second), logger)
	e.srv = httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		e.srv.Close()
	})
	return e
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	kickoff := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC)
	ev := domain.CanonicalEvent{
		EventID: "evt_a", Sport: "football", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		Country: "England", Tournament: "Premier League", Kickoff: kickoff,
	}
	if err := e.db.Events().Create(ctx, ev); err != nil {
		t.Fatalf("create event: %v", err)
	}
	ev.OddsData = map[string]domain.OutcomeOdds{"bk1": domain.NewOutcomeOdds(2.1, 3.4, 3.5)}
	if _, err := e.db.Events().SaveOdds(ctx, ev, domain.OddsHistoryEntry{
		EventID: "evt_a", BookmakerCode: "bk1", Odds: domain.NewOutcomeOdds(2.1, 3.4, 3.5),
		RecordedAt: kickoff.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("save odds: %v", err)
	}
	if err := e.db.Mappings().Upsert(ctx, domain.EventMapping{
		BookmakerCode: "bk1", ExternalID: "101", EventID: "evt_a", Kickoff: kickoff, Confidence: 1,
	}); err != nil {
		t.Fatalf("upsert mapping: %v", err)
	}
	if _, err := e.db.Heartbeats().AppendSample(ctx, domain.HeartbeatSample{
		EventID: "evt_a", BookmakerCode: "bk1", State: domain.HeartbeatSuspended, SampledAt: kickoff.Add(time.Minute),
	}); err != nil {
		t.Fatalf("append sample: %v", err)
	}
	if err := e.db.TournamentMargins().Append(ctx, []domain.TournamentMarginPoint{{
		Country: "England", Tournament: "Premier League", BookmakerCode: "bk1",
		AvgMarginPct: 5.1, EventCount: 1, RecordedAt: kickoff,
	}}); err != nil {
		t.Fatalf("append margins: %v", err)
	}
	if err := e.db.Bookmakers().Upsert(ctx, domain.Bookmaker{Code: "bk1", Name: "Bookie One", Kind: "file", Active: true}); err != nil {
		t.Fatalf("upsert bookmaker: %v", err)
	}
}

func (e *env) do(t *testing.T, method, path string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, body
}

func TestQueryRoutes(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	e.seed(t)

	tests := []struct {
		path     string
		wantCode int
		key      string
		wantLen  int
	}{
		{"/api/bookmakers", http.StatusOK, "bookmakers", 1},
		{"/api/events", http.StatusOK, "events", 1},
		{"/api/events?country=Spain", http.StatusOK, "events", 0},
		{"/api/events/evt_a/history", http.StatusOK, "history", 1},
		{"/api/events/evt_a/history?bookmaker=bk2", http.StatusOK, "history", 0},
		{"/api/events/evt_a/heartbeat", http.StatusOK, "samples", 1},
		{"/api/tournaments/margins?country=England", http.StatusOK, "points", 1},
		{"/api/unmapped", http.StatusOK, "records", 0},
		{"/api/heartbeat/active", http.StatusOK, "monitors", 1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := e.do(t, http.MethodGet, tt.path, nil)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantCode, body)
			}
			list, ok := body[tt.key].([]any)
			if !ok {
				t.Fatalf("%q is %T, want a list", tt.key, body[tt.key])
			}
			if len(list) != tt.wantLen {
				t.Errorf("len(%s) = %d, want %d", tt.key, len(list), tt.wantLen)
			}
		})
	}
}

func TestGetEvent(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	e.seed(t)

	code, body := e.do(t, http.MethodGet, "/api/events/evt_a", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["event_id"] != "evt_a" || body["home_team"] != "Arsenal" {
		t.Errorf("body = %v", body)
	}
	if m, _ := body["mappings"].([]any); len(m) != 1 {
		t.Errorf("mappings = %v", body["mappings"])
	}

	for _, path := range []string{"/api/events/evt_missing", "/api/events/evt_missing/history", "/api/events/evt_missing/heartbeat"} {
		if code, _ := e.do(t, http.MethodGet, path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestBadQueryParams(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	for _, path := range []string{
		"/api/events?limit=abc",
		"/api/events?from=yesterday",
		"/api/unmapped?offset=-1",
		"/api/tournaments/margins?since=2025-13-01",
	} {
		if code, _ := e.do(t, http.MethodGet, path, nil); code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, code)
		}
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, server.Config{}, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	code, body := e.do(t, http.MethodGet, "/api/health", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", code, body)
	}

	e = newEnv(t, server.Config{}, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	code, body = e.do(t, http.MethodGet, "/api/health", nil)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("health = %d %v", code, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "connection refused" || deps["postgres"] != "ok" {
		t.Errorf("dependencies = %v", deps)
	}
}

func TestPipelineTrigger(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)

	e.trigger.queued, e.trigger.skipped = []string{"bk1"}, []string{"bk2"}
	code, body := e.do(t, http.MethodPost, "/api/pipeline/trigger", nil)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if q := body["queued"].([]any); len(q) != 1 || q[0] != "bk1" {
		t.Errorf("queued = %v", body["queued"])
	}

	e.trigger.err = pipeline.ErrNotRunning
	if code, _ := e.do(t, http.MethodPost, "/api/pipeline/trigger", nil); code != http.StatusServiceUnavailable {
		t.Errorf("not running: status = %d, want 503", code)
	}

	if code, _ := e.do(t, http.MethodGet, "/api/pipeline/trigger", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET trigger = %d, want 405", code)
	}
}

func TestHeartbeatStop(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	code, body := e.do(t, http.MethodPost, "/api/heartbeat/evt_a/stop", nil)
	if code != http.StatusOK || body["stopped"] != float64(2) {
		t.Errorf("stop = %d %v", code, body)
	}
	if len(e.monitors.stopped) != 1 || e.monitors.stopped[0] != "evt_a" {
		t.Errorf("stopped = %v", e.monitors.stopped)
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, server.Config{APIKey: "s3cret"}, nil)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is open", "/api/health", nil, http.StatusOK},
		{"missing key", "/api/events", nil, http.StatusUnauthorized},
		{"wrong key", "/api/events", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/events", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"bearer", "/api/events", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := e.do(t, http.MethodGet, tt.path, tt.header); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, server.Config{RateLimit: 2, RateWindow: time.Minute}, nil)
	for i := 0; i < 2; i++ {
		if code, _ := e.do(t, http.MethodGet, "/api/bookmakers", nil); code != http.StatusOK {
			t.Fatalf("request %d = %d", i, code)
		}
	}
	code, _ := e.do(t, http.MethodGet, "/api/bookmakers", nil)
	if code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, server.Config{CORSOrigins: []string{"https://ops.example.com"}, APIKey: "k"}, nil)
	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/events", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.Notification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var n domain.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return n
}

func TestWebSocketBridge(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if hello := readFrame(t, conn); hello.Type != "hello" {
		t.Fatalf("first frame = %q, want hello", hello.Type)
	}

	payload, _ := json.Marshal(domain.Notification{
		Type:    domain.NotifyCycleCompleted,
		Payload: map[string]any{"bookmaker": "bk1", "event_count": 3},
	})
	if err := e.bus.Publish(context.Background(), domain.ChannelIngest, payload); err != nil {
		t.Fatal(err)
	}
	got := readFrame(t, conn)
	if got.Type != domain.NotifyCycleCompleted || got.Payload["bookmaker"] != "bk1" {
		t.Errorf("frame = %+v", got)
	}
}

func TestWebSocketReplay(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	ctx := context.Background()
	for _, typ := range []string{domain.NotifyCycleFailed, domain.NotifyCycleCompleted} {
		payload, _ := json.Marshal(domain.Notification{Type: typ})
		if err := e.bus.StreamAppend(ctx, domain.StreamNotifications, payload); err != nil {
			t.Fatal(err)
		}
	}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readFrame(t, conn) // hello
	for _, want := range []string{domain.NotifyCycleFailed, domain.NotifyCycleCompleted} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read replay: %v", err)
		}
		var entry struct {
			ID           string              `json:"id"`
			Notification domain.Notification `json:"notification"`
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			t.Fatalf("decode replay: %v", err)
		}
		if entry.ID == "" || entry.Notification.Type != want {
			t.Errorf("replay entry = %+v, want type %s", entry, want)
		}
	}
}
