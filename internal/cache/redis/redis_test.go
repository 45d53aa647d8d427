package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

const testPrefix = "test:"

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: testPrefix})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManagerAcquire(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "event:evt_1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !mr.Exists(testPrefix + "lock:event:evt_1") {
		t.Error("lock key not written under the prefix")
	}
	if _, err := lm.Acquire(ctx, "event:evt_1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire: err = %v, want ErrLockHeld", err)
	}
	if other, err := lm.Acquire(ctx, "event:evt_2", time.Minute); err != nil {
		t.Errorf("independent key: %v", err)
	} else {
		other()
	}

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "event:evt_1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestLockManagerExpiredHolderCannotUnlock(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	staleUnlock, err := lm.Acquire(ctx, "ingest:bk1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	unlock, err := lm.Acquire(ctx, "ingest:bk1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	defer unlock()

	staleUnlock()
	if !mr.Exists(testPrefix + "lock:ingest:bk1") {
		t.Error("expired holder released the new holder's lock")
	}
	if _, err := lm.Acquire(ctx, "ingest:bk1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}
}

func TestEventCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	ec := NewEventCache(c, 30*time.Second)
	key := testPrefix + "event:evt_1"

	if _, err := ec.Get(ctx, "evt_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("miss: err = %v, want ErrNotFound", err)
	}

	kick := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)
	e := domain.CanonicalEvent{
		EventID:    "evt_1",
		HomeTeam:   "Manchester United",
		AwayTeam:   "Liverpool",
		Tournament: "Premier League",
		Kickoff:    kick,
		OddsData:   map[string]domain.OutcomeOdds{"bk1": domain.NewOutcomeOdds(2.1, 3.4, 3.3)},
	}
	if err := ec.Set(ctx, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", ttl)
	}

	got, err := ec.Get(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.HomeTeam != e.HomeTeam || !got.Kickoff.Equal(kick) {
		t.Errorf("got %+v", got)
	}
	if h, _ := got.OddsData["bk1"].Leg(domain.OutcomeHome); h != 2.1 {
		t.Errorf("home odds = %v, want 2.1", h)
	}

	mr.FastForward(31 * time.Second)
	if _, err := ec.Get(ctx, "evt_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("after ttl: err = %v, want ErrNotFound", err)
	}

	if err := ec.Set(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := ec.Invalidate(ctx, "evt_1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := ec.Get(ctx, "evt_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("after invalidate: err = %v, want ErrNotFound", err)
	}
	if err := ec.Invalidate(ctx, "evt_1"); err != nil {
		t.Errorf("invalidate missing key: %v", err)
	}
}

func TestEventCacheDefaultTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ec := NewEventCache(c, 0)
	if err := ec.Set(context.Background(), domain.CanonicalEvent{EventID: "evt_1"}); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(testPrefix + "event:evt_1"); ttl != DefaultEventTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultEventTTL)
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, domain.StreamNotifications, "0", 10)
	if err != nil {
		t.Fatalf("read empty stream: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("empty stream returned %d messages", len(msgs))
	}

	for _, p := range []string{"one", "two", "three"} {
		if err := sb.StreamAppend(ctx, domain.StreamNotifications, []byte(p)); err != nil {
			t.Fatalf("StreamAppend %s: %v", p, err)
		}
	}

	first, err := sb.StreamRead(ctx, domain.StreamNotifications, "0", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || string(first[0].Payload) != "one" || string(first[1].Payload) != "two" {
		t.Fatalf("first page = %+v", first)
	}

	rest, err := sb.StreamRead(ctx, domain.StreamNotifications, first[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || string(rest[0].Payload) != "three" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)

	tests := []struct {
		subscribe string
		publish   string
	}{
		{"odds:updated", "odds:updated"},
		{"heartbeat:*", "heartbeat:evt_1"},
	}
	for _, tt := range tests {
		t.Run(tt.subscribe, func(t *testing.T) {
			ch, err := sb.Subscribe(ctx, tt.subscribe)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			if err := sb.Publish(ctx, tt.publish, []byte(`{"event_id":"evt_1"}`)); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			select {
			case got := <-ch:
				if string(got) != `{"event_id":"evt_1"}` {
					t.Errorf("payload = %s", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no message received")
			}
		})
	}
}

func TestRateLimiterAllow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 2, time.Minute)

	want := []bool{true, true, false}
	for i, w := range want {
		ok, err := rl.Allow(ctx, "feed:bk1", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if ok != w {
			t.Errorf("Allow %d = %v, want %v", i, ok, w)
		}
	}

	ok, err := rl.Allow(ctx, "feed:bk2", 2, time.Minute)
	if err != nil || !ok {
		t.Errorf("other key: ok = %v, err = %v", ok, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(waitCtx, "feed:bk1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on exhausted key: err = %v, want deadline exceeded", err)
	}
}
