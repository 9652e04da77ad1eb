package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestRedisStoreIncrementWithTTL(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "ratelimit:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Minute)

	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.True(t, server.Exists("ticvision:ratelimit:1.2.3.4"))

	server.FastForward(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "greeting", []byte("hello"), time.Minute))

	value, ok, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), value)

	server.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "keep", []byte("x"), 0))
	require.NoError(t, store.Delete(ctx, "keep", "missing"))
	_, ok, err = store.Get(ctx, "keep")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreRejectsMissingAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.Error(t, err)
}

func TestRedisStorePingFailsWhenServerDown(t *testing.T) {
	server := miniredis.RunT(t)
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Ping(context.Background()))
	server.Close()
	require.Error(t, store.Ping(context.Background()))
}

func TestNormalizeKeyCollapsesColons(t *testing.T) {
	require.Equal(t, "a:b:c", normalizeKey("a::b:::c"))
	require.Equal(t, "ticvision:x", prefixed("ticvision:x"))
	require.Equal(t, "ticvision:x", prefixed(":x"))
}
