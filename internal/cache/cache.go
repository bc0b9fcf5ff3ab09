package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the result cache selected by cfg.Type: "memory" for a single
// instance, "redis" for a cache shared by every instance, optionally fronted
// by a local layer when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache keeps hot results in process (L1) in front of a shared
// store (L2). L1 entries live at most LocalTTL so an instance that missed an
// invalidation event converges on its own.
//
// An unreachable L2 degrades to L1 only: reads miss and the result is
// recomputed, writes keep the local copy. Flush is the exception since a
// failed invalidation must be visible to the caller.
type TwoPhaseCache struct {
	local  *MemoryCache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects the Redis layer and puts a memory layer in front.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhaseCache(NewMemoryCache(), remote, cfg.LocalTTL), nil
}

func newTwoPhaseCache(local *MemoryCache, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = domain.DefaultResultTTL
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		slog.Warn("shared cache read failed, recomputing", "key", key, "error", err)
		return nil, nil
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set stores value for ttl in L2 and for at most LocalTTL in L1.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("shared cache write failed, kept local copy", "key", key, "error", err)
	}
	return nil
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// Flush empties L1 even when L2 cannot be reached.
func (c *TwoPhaseCache) Flush(ctx context.Context) error {
	_ = c.local.Flush(ctx)
	if err := c.remote.Flush(ctx); err != nil {
		return fmt.Errorf("shared cache flush: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local cache: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns the number of live L1 entries.
func (c *TwoPhaseCache) Stats() (size int) {
	return c.local.Stats()
}
