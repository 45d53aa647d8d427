package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/cache/memory"
	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/alanyoungcy/oddsbot/internal/notify"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu       sync.Mutex
	name     string
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, title+": "+message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestNotifier_Filter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := notify.NewNotifier([]notify.Sender{s}, []string{notify.EventIngestFailed, " "}, discard())

	ctx := context.Background()
	if err := n.Notify(ctx, notify.EventIngestCompleted, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(ctx, notify.EventIngestFailed, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if got := s.count(); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := notify.NewNotifier([]notify.Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("err = %v, want combined sender failure", err)
	}
	if good.count() != 1 {
		t.Error("good sender skipped")
	}
}

func TestNotifier_NilAndEmpty(t *testing.T) {
	var n *notify.Notifier
	if n.Enabled(notify.EventIngestFailed) {
		t.Error("nil notifier enabled")
	}
	empty := notify.NewNotifier(nil, nil, discard())
	if empty.Enabled(notify.EventIngestFailed) {
		t.Error("notifier without senders enabled")
	}
}

func TestBusChannel(t *testing.T) {
	bus := memory.NewSignalBus(100)
	alerts := &recordingSender{name: "rec"}
	notifier := notify.NewNotifier([]notify.Sender{alerts}, []string{notify.EventIngestFailed}, discard())
	ch := notify.NewBusChannel(bus, notifier, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ingest, err := bus.Subscribe(ctx, domain.ChannelIngest)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := bus.Subscribe(ctx, domain.ChannelHeartbeat)
	if err != nil {
		t.Fatal(err)
	}

	if err := ch.CycleFailed(ctx, "bk1", "timeout", 2); err != nil {
		t.Fatal(err)
	}
	if err := ch.CycleCompleted(ctx, "bk1", 42); err != nil {
		t.Fatal(err)
	}
	if err := ch.HeartbeatUpdated(ctx, "evt_1", "bk1", domain.HeartbeatAvailable); err != nil {
		t.Fatal(err)
	}

	failed := receive(t, ingest)
	if failed.Type != domain.NotifyCycleFailed {
		t.Errorf("type = %q, want %q", failed.Type, domain.NotifyCycleFailed)
	}
	if failed.Payload["reason"] != "timeout" || failed.Payload["attempt"] != float64(2) {
		t.Errorf("payload = %v", failed.Payload)
	}
	completed := receive(t, ingest)
	if completed.Type != domain.NotifyCycleCompleted || completed.Payload["event_count"] != float64(42) {
		t.Errorf("completed = %+v", completed)
	}
	beat := receive(t, hb)
	if beat.Type != domain.NotifyHeartbeatUpdated || beat.Payload["state"] != "available" {
		t.Errorf("heartbeat = %+v", beat)
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamNotifications, "0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("stream has %d entries, want 3", len(msgs))
	}

	// Only the failure passes the alert filter.
	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerts.count())
	}
}

func receive(t *testing.T, ch <-chan []byte) domain.Notification {
	t.Helper()
	select {
	case data := <-ch:
		var n domain.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
		return domain.Notification{}
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := notify.NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL)
	if err := s.Send(context.Background(), "Ingestion failed", "bk1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "42" || !strings.HasPrefix(got["text"], "*Ingestion failed*") {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := notify.NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want status 400", err)
	}
}

func TestTelegramSender_EscapesAndRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		got   map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := notify.NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL).WithRetry(3, time.Millisecond)
	if err := s.Send(context.Background(), "Ingestion failed", "bk-1: timeout (attempt 2)."); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if want := "*Ingestion failed*\nbk\\-1: timeout \\(attempt 2\\)\\."; got["text"] != want {
		t.Errorf("text = %q, want %q", got["text"], want)
	}
	if got["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %q", got["parse_mode"])
	}
}

func TestDiscordSender_Embed(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
		} `json:"embeds"`
	}
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := notify.NewDiscordSender(srv.URL).Send(context.Background(), "Ingestion failed", "bk1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 || len(got.Embeds) != 1 {
		t.Fatalf("calls = %d, embeds = %d", calls, len(got.Embeds))
	}
	if e := got.Embeds[0]; e.Title != "Ingestion failed" || e.Description != "bk1" || e.Color != 0xE74C3C {
		t.Errorf("embed = %+v", e)
	}
}

func TestDiscordSender_GivesUpOnServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewDiscordSender(srv.URL).WithRetry(2, time.Millisecond).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status 502", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
