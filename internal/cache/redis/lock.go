package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder never releases another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the caller still owns the lock.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional refresh and unlock.
type LockManager struct {
	c         *Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:         c,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. It returns domain.ErrLockHeld if another party holds it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	token := uuid.New().String()
	lk := lm.c.Key("lock:" + key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lock{lm: lm, key: lk, token: token}, nil
}

type lock struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

// Refresh extends the lock. It returns domain.ErrLockHeld once ownership has
// been lost, e.g. after the TTL lapsed and someone else took it.
func (l *lock) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.refreshSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return domain.Transient(fmt.Errorf("redis: refresh lock: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock: %w", domain.ErrLockHeld)
	}
	return nil
}

// Release is safe to call more than once.
func (l *lock) Release() {
	l.once.Do(func() {
		// Background context so unlock succeeds even after the caller's
		// context is cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
