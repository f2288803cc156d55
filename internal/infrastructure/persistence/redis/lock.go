package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks.
type Locker struct {
	cache *Cache
}

// NewLocker creates a Locker.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// TryLock takes the lock on resource for ttl. ok is false when another holder
// has it. release is a no-op when ok is false.
func (l *Locker) TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	key := LockKey(resource)
	token := uuid.NewString()

	ok, err = l.cache.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return func(context.Context) error { return nil }, false, err
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
	}, true, nil
}
