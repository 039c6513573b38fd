package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pricebook/pricebook/internal/platform/cache"
	"github.com/pricebook/pricebook/internal/pricing"
)

func TestWatchEmitsInitialThenPerEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	fetch := func(context.Context) pricing.Result {
		calls++
		return pricing.Result{Records: []pricing.PricingRecord{}, Strategy: pricing.StrategyRecent}
	}
	events := make(chan pricing.ChangeEvent, 3)
	events <- pricing.ChangeEvent{Kind: pricing.ChangeImport, Count: 2}
	events <- pricing.ChangeEvent{Kind: pricing.ChangeUpdate, Count: 1}
	events <- pricing.ChangeEvent{Kind: pricing.ChangeCreate, Count: 1}

	var snaps []pricing.Snapshot
	for snap := range pricing.Watch(context.Background(), fetch, events, 3) {
		snaps = append(snaps, snap)
	}
	require.Len(t, snaps, 3)
	require.Nil(t, snaps[0].Event)
	require.Equal(t, pricing.ChangeImport, snaps[1].Event.Kind)
	require.Equal(t, 3, snaps[2].Seq)
	require.Equal(t, 3, calls)
}

func TestWatchStopsOnCancelAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetch := func(context.Context) pricing.Result { return pricing.Result{} }

	events := make(chan pricing.ChangeEvent)
	close(events)
	var n int
	for range pricing.Watch(context.Background(), fetch, events, 0) {
		n++
	}
	require.Equal(t, 1, n)

	ctx, cancel := context.WithCancel(context.Background())
	open := make(chan pricing.ChangeEvent)
	out := pricing.Watch(ctx, fetch, open, 0)
	<-out
	cancel()
	for range out {
	}
}

func TestLocalNotifierFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := pricing.NewLocalNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	events, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, pricing.ChangeEvent{Kind: pricing.ChangeUpdate, IDs: []string{"r1"}}))
	evt := <-events
	require.Equal(t, []string{"r1"}, evt.IDs)

	cancel()
	_, open := <-events
	require.False(t, open)
}

func TestRedisNotifierPublishesAndBumps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	versioned := cache.NewVersioned(client, "pricing", time.Minute)
	notifier := pricing.NewRedisNotifier(client, versioned, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	before, err := versioned.Version(ctx)
	require.NoError(t, err)

	events, err := notifier.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, notifier.Publish(ctx, pricing.ChangeEvent{Kind: pricing.ChangeImport, Count: 4, Actor: "u1"}))

	select {
	case evt := <-events:
		require.Equal(t, pricing.ChangeImport, evt.Kind)
		require.Equal(t, 4, evt.Count)
	case <-ctx.Done():
		t.Fatal("no change event received")
	}

	after, err := versioned.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)
}
