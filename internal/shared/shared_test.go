package shared

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisIdempotencyStore(client, time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "abc", "pricing.import"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "abc", "pricing.import"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "abc", "other"))

	require.NoError(t, store.Delete(ctx, "abc", "pricing.import"))
	require.NoError(t, store.CheckAndInsert(ctx, "abc", "pricing.import"))

	require.Error(t, store.CheckAndInsert(ctx, "", "pricing.import"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "abc", "pricing.import"))
}

func TestLogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Record(context.Background(), AuditLog{
		ActorID:  "u1",
		Action:   "pricing.import",
		Entity:   "pricing_records",
		EntityID: "imp-1",
		Meta:     map[string]any{"inserted": 2},
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"action":"pricing.import"`)
	require.Contains(t, buf.String(), `"actor":"u1"`)

	require.Error(t, sink.Record(context.Background(), AuditLog{Action: "x"}))
}
