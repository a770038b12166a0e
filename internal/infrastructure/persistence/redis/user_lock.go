package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER LOCK
// Distributed per-user mutation lock: SET NX PX with a random token,
// released by a script that deletes the key only if the token matches.
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLock implements progression.UserLocker on Redis.
type UserLock struct {
	cache  *Cache
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewUserLock creates a lock. ttl bounds how long a crashed holder can
// block the user; a non-positive ttl means TTLDistributedLock.
func NewUserLock(cache *Cache, ttl time.Duration, log *zap.Logger) *UserLock {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserLock{
		cache:  cache,
		ttl:    ttl,
		poll:   25 * time.Millisecond,
		logger: log.With(zap.String("component", "user_lock")),
	}
}

// Lock blocks until the key is acquired or ctx is done.
func (l *UserLock) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := LockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.cache.Client().SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, l.notAcquired(key, ctx.Err())
			}
			return nil, unavailable("Lock", err)
		}
		if ok {
			return l.releaser(lockKey, token, time.Now()), nil
		}

		select {
		case <-ctx.Done():
			return nil, l.notAcquired(key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// releaser returns the unlock func. A holder that outlived the TTL is
// logged; its commit is rejected by the checkpoint fence of the store.
func (l *UserLock) releaser(lockKey, token string, acquired time.Time) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		held := time.Since(acquired)
		if held > l.ttl/2 {
			l.logger.Warn("lock held close to its ttl",
				zap.String("key", lockKey),
				zap.Duration("held", held),
				zap.Duration("ttl", l.ttl),
			)
		}

		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		n, err := releaseScript.Run(ctx, l.cache.Client(), []string{lockKey}, token).Int()
		switch {
		case err != nil:
			l.logger.Warn("lock release failed", zap.String("key", lockKey), zap.Duration("held", held), zap.Error(err))
		case n == 0:
			l.logger.Warn("lock expired before release", zap.String("key", lockKey), zap.Duration("held", held))
		}
	}
}

func (l *UserLock) notAcquired(key string, err error) error {
	return shared.WrapError("redis", "Lock", shared.ErrLockNotAcquired, "lock "+key+" not acquired", err)
}
