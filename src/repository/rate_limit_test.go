package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewRedisRateLimiter(client, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "register:a@x.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "register:a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "register:b@x.com")
	require.NoError(t, err)
	assert.True(t, ok, "keys are limited independently")

	assert.Equal(t, time.Minute, mr.TTL(rateLimitKeyPrefix+":register:a@x.com"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "register:a@x.com")
	require.NoError(t, err)
	assert.True(t, ok, "window resets after expiry")
}

func TestRedisRateLimiter_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewRedisRateLimiter(client, 2, time.Minute)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "register:a@x.com")
	assert.Error(t, err)
}

func TestMemoryRateLimiter_Allow(t *testing.T) {
	limiter := NewMemoryRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "reset:a@x.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "reset:a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "reset:b@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryRateLimiter_WindowExpiry(t *testing.T) {
	limiter := NewMemoryRateLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "k")
	assert.False(t, ok)

	time.Sleep(80 * time.Millisecond)
	ok, _ = limiter.Allow(ctx, "k")
	assert.True(t, ok)
}
