package storage

import (
	"testing"
	"time"

	"github.com/crypto-dashboard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCacheUnreachable(t *testing.T) {
	cfg := &config.RedisConfig{Host: "127.0.0.1", Port: "1", MaxConnections: 1}

	_, err := NewRedisCache(cfg)
	assert.Error(t, err)
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, mr := newTestRedis(t)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, "test:key", "test-value", 10*time.Second))

	got, err := cache.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.Equal(t, "test-value", got)
	assert.Equal(t, 10*time.Second, mr.TTL("test:key"))

	require.NoError(t, cache.Del(ctx, "test:key"))
	_, err = cache.Get(ctx, "test:key")
	assert.Error(t, err)
}

func TestRedisCache_Exists(t *testing.T) {
	cache, _ := newTestRedis(t)
	ctx := testContext(t)

	exists, err := cache.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cache.Set(ctx, "test:exists", "v", 0))
	exists, err = cache.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisCache_Expiry(t *testing.T) {
	cache, mr := newTestRedis(t)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, "short", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	exists, err := cache.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheService_JSONRoundTripAndMiss(t *testing.T) {
	cache, _ := newTestRedis(t)
	svc := NewCacheService(cache, time.Hour)
	ctx := testContext(t)

	key := svc.GenerateCacheKey(CacheKeyPrice, "BTC")
	assert.Equal(t, "price:btc", key)

	var missing map[string]int
	found, err := svc.Get(ctx, key, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.Set(ctx, key, map[string]int{"a": 1}))
	var got map[string]int
	found, err = svc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got["a"])

	require.NoError(t, svc.InvalidatePattern(ctx, "price:*"))
	found, err = svc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}
