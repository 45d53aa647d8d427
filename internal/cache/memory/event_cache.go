// Package memory provides in-process counterparts of the Redis cache
// components for single-process runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// EventCache implements domain.EventCache with a TTL map. Values are stored
// JSON-encoded so callers never share maps with the cache.
type EventCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// NewEventCache creates an EventCache whose entries live for ttl.
func NewEventCache(ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EventCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *EventCache) Set(_ context.Context, e domain.CanonicalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal event %s: %w", e.EventID, err)
	}
	c.mu.Lock()
	c.entries[e.EventID] = cacheEntry{data: data, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *EventCache) Get(_ context.Context, id string) (domain.CanonicalEvent, error) {
	c.mu.Lock()
	ent, ok := c.entries[id]
	if ok && !c.now().Before(ent.expires) {
		delete(c.entries, id)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return domain.CanonicalEvent{}, domain.ErrNotFound
	}

	var e domain.CanonicalEvent
	if err := json.Unmarshal(ent.data, &e); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("memory: unmarshal event %s: %w", id, err)
	}
	return e, nil
}

func (c *EventCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired or not.
func (c *EventCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ domain.EventCache = (*EventCache)(nil)
