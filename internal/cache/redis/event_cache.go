package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultEventTTL bounds how stale a cached event can get if an
// invalidation is lost.
const DefaultEventTTL = 5 * time.Minute

// EventCache implements domain.EventCache with one hash per event holding
// the JSON-encoded CanonicalEvent.
//
// Key schema:
//
//	event:{id} - hash with field "data"
type EventCache struct {
	c   *Client
	ttl time.Duration
}

// NewEventCache creates an EventCache. A non-positive ttl selects
// DefaultEventTTL.
func NewEventCache(c *Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventCache{c: c, ttl: ttl}
}

func (ec *EventCache) key(id string) string { return ec.c.Key("event:" + id) }

// Set stores the event with the cache TTL.
func (ec *EventCache) Set(ctx context.Context, e domain.CanonicalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", e.EventID, err)
	}

	key := ec.key(e.EventID)
	pipe := ec.c.Underlying().TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ec.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set event %s: %w", e.EventID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (ec *EventCache) Get(ctx context.Context, id string) (domain.CanonicalEvent, error) {
	data, err := ec.c.Underlying().HGet(ctx, ec.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CanonicalEvent{}, domain.ErrNotFound
		}
		return domain.CanonicalEvent{}, fmt.Errorf("redis: get event %s: %w", id, err)
	}

	var e domain.CanonicalEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("redis: unmarshal event %s: %w", id, err)
	}
	return e, nil
}

// Invalidate drops the cached event. Missing keys are not an error.
func (ec *EventCache) Invalidate(ctx context.Context, id string) error {
	if err := ec.c.Underlying().Del(ctx, ec.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate event %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventCache = (*EventCache)(nil)
