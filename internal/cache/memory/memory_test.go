package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

func TestEventCacheTTLAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewEventCache(time.Minute)
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, domain.CanonicalEvent{EventID: "e1", HomeTeam: "A"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "e1")
	if err != nil || got.HomeTeam != "A" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := c.Invalidate(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "e1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected miss after invalidate, got %v", err)
	}

	_ = c.Set(ctx, domain.CanonicalEvent{EventID: "e2"})
	now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "e2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected miss after ttl, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()
	now := time.Now()
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}

	// An expired lock can be taken over and the stale unlock must not
	// release the new holder.
	now = now.Add(2 * time.Second)
	unlock3, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	unlock2()
	if _, err := lm.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("stale unlock released the new holder")
	}
	unlock3()
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewSignalBus(0)

	exact, _ := b.Subscribe(ctx, "ch:ingest")
	pattern, _ := b.Subscribe(ctx, "ch:*")

	if err := b.Publish(ctx, "ch:ingest", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	for name, ch := range map[string]<-chan []byte{"exact": exact, "pattern": pattern} {
		select {
		case msg := <-ch:
			if string(msg) != "hello" {
				t.Errorf("%s: got %q", name, msg)
			}
		case <-time.After(time.Second):
			t.Errorf("%s: no message", name)
		}
	}

	_ = b.Publish(ctx, "ch:heartbeat", []byte("hb"))
	select {
	case msg := <-exact:
		t.Errorf("exact subscriber got message for other channel: %q", msg)
	case <-pattern:
	case <-time.After(time.Second):
		t.Error("pattern subscriber missed ch:heartbeat")
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	b := NewSignalBus(2)
	for _, p := range []string{"a", "b", "c"} {
		_ = b.StreamAppend(ctx, "s", []byte(p))
	}

	msgs, _ := b.StreamRead(ctx, "s", "0", 10)
	if len(msgs) != 2 || string(msgs[0].Payload) != "b" {
		t.Fatalf("unexpected stream contents: %+v", msgs)
	}
	rest, _ := b.StreamRead(ctx, "s", msgs[0].ID, 10)
	if len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Errorf("unexpected read after %s: %+v", msgs[0].ID, rest)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(2, time.Second)
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		ok, _ := rl.Allow(ctx, "k", 2, time.Second)
		if ok != want {
			t.Errorf("call %d: allowed = %v, want %v", i, ok, want)
		}
	}
	now = now.Add(1100 * time.Millisecond)
	if ok, _ := rl.Allow(ctx, "k", 2, time.Second); !ok {
		t.Error("expected window to slide")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	rl2 := NewRateLimiter(1, time.Hour)
	_ = rl2.Wait(ctx, "x")
	if err := rl2.Wait(cctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
