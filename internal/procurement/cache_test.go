package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchAndBump(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.DetailKey(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "procurement:po:42:v1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]string{"poNumber": "PO-202602-42"}, nil
	}

	var out map[string]string
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, "PO-202602-42", out["poNumber"])
	require.Equal(t, 1, calls)

	// Second fetch is served from redis.
	out = nil
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, "PO-202602-42", out["poNumber"])
	require.Equal(t, 1, calls)

	require.NoError(t, cache.Bump(ctx))
	key2, err := cache.DetailKey(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "procurement:po:42:v2", key2)
	require.NotEqual(t, key, key2)

	require.NoError(t, cache.FetchJSON(ctx, key2, &out, loader))
	require.Equal(t, 2, calls)
}

func TestCacheNilClient(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	require.NoError(t, cache.Bump(ctx))
	var out map[string]string
	err := cache.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) {
		return map[string]string{"a": "b"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "b", out["a"])
}
