package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serialises a critical section identified by key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// ErrLockNotObtained is returned when the critical section is already held
// and could not be entered within the retry budget.
var ErrLockNotObtained = errors.New("inventory: could not obtain reservation lock")

// RedisLocker implements Locker on top of redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a RedisLocker with the given lock TTL.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// WithLock runs fn while holding the lock for key.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 10),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockNotObtained
	}
	if err != nil {
		return fmt.Errorf("inventory: obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(ctx)
	}()
	return fn()
}
