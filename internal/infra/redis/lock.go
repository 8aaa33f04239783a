package redis

import (
	"context"
	"fmt"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker keeps scheduled jobs single-instance across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	cli     *redis.Client
	retries int
	backoff time.Duration
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli, retries: 3, backoff: 50 * time.Millisecond}
}

// TryLock returns domain.ErrLockNotAcquired when another holder owns key.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.retries; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			lastErr = err
		} else if ok {
			metrics.IncLockAttempt(key, "acquired")
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.backoff): // wait before retrying
		}
	}
	if lastErr != nil {
		metrics.IncLockAttempt(key, "error")
		return "", lastErr
	}
	metrics.IncLockAttempt(key, "busy")
	return "", domain.ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

// NoopLocker always grants the lock; used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "local", nil
}

func (NoopLocker) Unlock(ctx context.Context, key, token string) error { return nil }

func JobLockKey(job string) string {
	return fmt.Sprintf("lock:job:%s", job)
}
