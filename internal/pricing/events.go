package pricing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the pub/sub channel carrying ChangeEvent payloads.
const ChangeChannel = "pricing.changed"

// Notifier receives committed mutations.
type Notifier interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}

// Subscriber streams change events until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

// CacheInvalidator drops cached reads. *cache.Versioned satisfies it.
type CacheInvalidator interface {
	Bump(ctx context.Context, channel string) (int64, error)
}

// RedisNotifier invalidates the read cache and fans events out over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewRedisNotifier builds the notifier. cache may be nil.
func NewRedisNotifier(client *redis.Client, cache CacheInvalidator, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, cache: cache, logger: logger}
}

// Publish bumps the cache version then broadcasts evt.
func (n *RedisNotifier) Publish(ctx context.Context, evt ChangeEvent) error {
	if n.cache != nil {
		if _, err := n.cache.Bump(ctx, ""); err != nil {
			n.logger.Warn("pricing cache bump", slog.Any("error", err))
		}
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, ChangeChannel, payload).Err()
}

// Subscribe listens on ChangeChannel. The returned channel closes when ctx ends.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	pubsub := n.client.Subscribe(ctx, ChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					n.logger.Warn("pricing change payload", slog.Any("error", err))
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// LocalNotifier fans events out to in-process subscribers. Slow subscribers miss events.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[chan ChangeEvent]struct{}
}

// NewLocalNotifier returns an empty hub.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[chan ChangeEvent]struct{})}
}

// Publish delivers evt to every subscriber with buffer space.
func (n *LocalNotifier) Publish(ctx context.Context, evt ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber removed when ctx ends.
func (n *LocalNotifier) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 16)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

type multiNotifier []Notifier

// Notifiers combines several notifiers; Publish returns the first error after trying all.
func Notifiers(ns ...Notifier) Notifier {
	return multiNotifier(ns)
}

func (m multiNotifier) Publish(ctx context.Context, evt ChangeEvent) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
