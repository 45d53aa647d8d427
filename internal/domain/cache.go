package domain

import (
	"context"
	"time"
)

// EventCache is the server-owned "latest odds" cache keyed by event id.
// Entries expire after a fixed TTL and are invalidated whenever a new history
// row is written for the event.
type EventCache interface {
	Set(ctx context.Context, e CanonicalEvent) error
	Get(ctx context.Context, eventID string) (CanonicalEvent, error)
	Invalidate(ctx context.Context, eventID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
