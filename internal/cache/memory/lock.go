package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// LockManager implements domain.LockManager in process. Locks expire after
// their TTL like the Redis implementation.
type LockManager struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]heldLock
	seq   uint64
}

type heldLock struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{now: time.Now, locks: make(map[string]heldLock)}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if h, ok := lm.locks[key]; ok && now.Before(h.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	token := lm.seq
	lm.locks[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if h, ok := lm.locks[key]; ok && h.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
