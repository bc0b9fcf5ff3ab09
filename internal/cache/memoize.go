package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GetOrCompute returns the cached value for key, or calls producer and caches its
// result for ttl. Producer errors are returned as-is and never cached.
//
// Concurrent misses on the same key may each call producer; producers are pure
// reads, so the last write wins with an equivalent value.
func GetOrCompute[T any](ctx context.Context, c domain.Cache, key Key, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return producer(ctx)
	}
	if ttl <= 0 {
		ttl = domain.DefaultResultTTL
	}

	k := key.String()

	data, err := c.Get(ctx, k)
	if err != nil {
		slog.Warn("cache read failed, recomputing", "key", k, "error", err)
	}
	if data != nil {
		var cached T
		err := json.Unmarshal(data, &cached)
		if err == nil {
			slog.Debug("cache hit", "key", k)
			return cached, nil
		}
		slog.Warn("cache entry undecodable, recomputing", "key", k, "error", err)
	}

	slog.Debug("cache miss", "key", k)
	value, err := producer(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache entry not encodable", "key", k, "error", err)
		return value, nil
	}
	if err := c.Set(ctx, k, encoded, ttl); err != nil {
		slog.Warn("cache write failed", "key", k, "error", err)
	}

	return value, nil
}
