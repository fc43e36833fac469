package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

const rateLimitKeyPrefix = "challenge:ratelimit"

// RedisRateLimiter is a fixed window counter shared by every server instance.
type RedisRateLimiter struct {
	redis  *redis.Client
	max    int64
	window time.Duration
}

func NewRedisRateLimiter(redis *redis.Client, max int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  redis,
		max:    int64(max),
		window: window,
	}
}

// Allow counts one hit for key and reports whether it is within the window budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rateLimitKeyPrefix, key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= l.max, nil
}

// MemoryRateLimiter is the single process fallback used when no Redis is configured.
type MemoryRateLimiter struct {
	cache  *gocache.Cache
	max    int
	window time.Duration
	mu     sync.Mutex
}

func NewMemoryRateLimiter(max int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		cache:  gocache.New(window, window),
		max:    max,
		window: window,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.cache.Add(key, 1, l.window); err == nil {
		return l.max >= 1, nil
	}

	count, err := l.cache.IncrementInt(key, 1)
	if err != nil {
		// the entry expired between Add and IncrementInt
		l.cache.Set(key, 1, l.window)
		return l.max >= 1, nil
	}

	return count <= l.max, nil
}
