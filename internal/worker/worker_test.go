package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// flakyCache fails every Flush.
type flakyCache struct {
	*cache.MemoryCache
}

func (flakyCache) Flush(ctx context.Context) error { return errors.New("flush refused") }

func waitForFlushes(t *testing.T, w *Invalidator, want int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.GetStats().Flushes >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: expected %d flushes, got %d", want, w.GetStats().Flushes)
}

func TestInvalidator(t *testing.T) {
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		w := NewInvalidator(eventBus, cache.NewMemoryCache())
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicDatasetRefreshed {
			t.Errorf("expected topic %s, got %s", domain.TopicDatasetRefreshed, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("FlushesOnRefresh", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		c := cache.NewMemoryCache()
		_ = c.Set(ctx, "aggregate|sales|sum|2017-12-30|28|", []byte(`{"current":300}`), time.Minute)

		w := NewInvalidator(eventBus, c)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if err := PublishRefreshed(ctx, eventBus, domain.DatasetRefreshed{Source: "test", Rows: 4}); err != nil {
			t.Fatalf("PublishRefreshed failed: %v", err)
		}

		waitForFlushes(t, w, 1)
		if size := c.Stats(); size != 0 {
			t.Errorf("expected empty cache after refresh, got %d entries", size)
		}
	})

	t.Run("UnreadablePayloadStillFlushes", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		c := cache.NewMemoryCache()
		_ = c.Set(ctx, "k", []byte("v"), time.Minute)

		w := NewInvalidator(eventBus, c)
		_ = w.Start()
		defer w.Stop()

		_ = eventBus.Publish(ctx, domain.TopicDatasetRefreshed, []byte("not json"))

		waitForFlushes(t, w, 1)
		if size := c.Stats(); size != 0 {
			t.Errorf("expected empty cache, got %d entries", size)
		}
	})

	t.Run("FlushFailureNotCounted", func(t *testing.T) {
		w := NewInvalidator(bus.NewChannelBus(10), flakyCache{cache.NewMemoryCache()})
		msg := &domain.Message{ID: "m1", Topic: domain.TopicDatasetRefreshed, Payload: []byte(`{}`)}

		if err := w.handleRefresh(ctx, msg); err == nil {
			t.Error("expected flush error to be returned")
		}
		if got := w.GetStats().Flushes; got != 0 {
			t.Errorf("expected 0 flushes, got %d", got)
		}
	})

	t.Run("RequiresDependencies", func(t *testing.T) {
		if err := NewInvalidator(nil, cache.NewMemoryCache()).Start(); err == nil {
			t.Error("expected error without a bus")
		}
	})
}
