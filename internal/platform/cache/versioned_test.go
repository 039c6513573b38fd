package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "pricing", time.Minute), mr
}

func TestVersionedFetchAndBump(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	key, err := c.BuildKey(ctx, "recent", "20")
	require.NoError(t, err)
	require.Equal(t, "pricing:recent:20:v1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"a", "b"}, nil
	}
	var out []string
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, []string{"a", "b"}, out)
	require.Equal(t, 1, calls)

	ver, err := c.Bump(ctx, "pricing.changed")
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)

	key, err = c.BuildKey(ctx, "recent", "20")
	require.NoError(t, err)
	require.Equal(t, "pricing:recent:20:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 2, calls)
}

func TestVersionedNilClientPassesThrough(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(nil, "pricing", time.Minute)

	key, err := c.BuildKey(ctx, "recent")
	require.NoError(t, err)
	require.Equal(t, "pricing:recent", key)

	var out int
	require.NoError(t, c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) { return 7, nil }))
	require.Equal(t, 7, out)

	ver, err := c.Bump(ctx, "")
	require.NoError(t, err)
	require.Zero(t, ver)
}
