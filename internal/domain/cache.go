package domain

import (
	"context"
	"time"
)

// Cache defines the interface for result caching.
// Supports two-phase caching: local memory (single node) + Redis (shared).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Flush drops every cached result.
	Flush(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `toml:"type" env:"TYPE"`

	// Lifetime of L1 entries in two-phase mode
	LocalTTL time.Duration `toml:"local_ttl" env:"LOCAL_TTL"`

	// Redis settings
	RedisAddr     string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" env:"REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `toml:"two_phase" env:"TWO_PHASE"` // If true, check local first, then Redis
}
