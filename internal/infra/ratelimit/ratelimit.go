// Package ratelimit caps requests per (client, endpoint) for the public
// HTTP endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "horoscope:rate_limit"

// Limiter reports whether one more request from client to endpoint is allowed.
type Limiter interface {
	Allow(ctx context.Context, client, endpoint string) (bool, error)
}

// Connect creates a Redis client and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisLimiter is a fixed-window counter: one INCR per request on a key that
// expires shortly after its window closes.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, max: max, window: window, now: time.Now}
}

func windowKey(client, endpoint string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, endpoint, client, now.UnixNano()/int64(window))
}

func (l *RedisLimiter) Allow(ctx context.Context, client, endpoint string) (bool, error) {
	key := windowKey(client, endpoint, l.now(), l.window)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		l.rdb.PExpire(ctx, key, l.window+time.Second)
	}
	return count <= int64(l.max), nil
}

// StoreLimiter keeps a sliding window in the subscriber store when Redis is
// not configured.
type StoreLimiter struct {
	repo   notification.RateLimitRepository
	max    int
	window time.Duration
	now    func() time.Time
}

func NewStoreLimiter(repo notification.RateLimitRepository, max int, window time.Duration) *StoreLimiter {
	return &StoreLimiter{repo: repo, max: max, window: window, now: time.Now}
}

func (l *StoreLimiter) Allow(ctx context.Context, client, endpoint string) (bool, error) {
	ok, err := l.repo.Hit(ctx, client, endpoint, l.max, l.window, l.now())
	if err != nil {
		return false, fmt.Errorf("rate limit hit: %w", err)
	}
	return ok, nil
}
