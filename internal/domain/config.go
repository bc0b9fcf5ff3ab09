package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server" envPrefix:"SERVER_"`

	// Analytics settings
	Analytics AnalyticsConfig `toml:"analytics" envPrefix:"ANALYTICS_"`

	// Component configurations
	Repository RepositoryConfig `toml:"repository" envPrefix:"REPOSITORY_"`
	Cache      CacheConfig      `toml:"cache" envPrefix:"CACHE_"`
	EventBus   EventBusConfig   `toml:"event_bus" envPrefix:"EVENTBUS_"`

	// Observability
	Logging LoggingConfig `toml:"logging" envPrefix:"LOG_"`
	Tracing TracingConfig `toml:"tracing" envPrefix:"TRACING_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host" env:"HOST"`
	Port         int    `toml:"port" env:"PORT"`
	ReadTimeout  int    `toml:"read_timeout" env:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `toml:"write_timeout" env:"WRITE_TIMEOUT"` // seconds

	// Browser origins allowed to call the API; empty allows any
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// AnalyticsConfig holds query settings.
type AnalyticsConfig struct {
	// DefaultWindowDays is used when a request carries no window
	DefaultWindowDays int `toml:"default_window_days" env:"DEFAULT_WINDOW_DAYS"`

	// OrderLimit caps the order detail table
	OrderLimit int `toml:"order_limit" env:"ORDER_LIMIT"`

	// ResultTTL is how long query results are served from cache
	ResultTTL time.Duration `toml:"result_ttl" env:"RESULT_TTL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `toml:"format" env:"FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled" env:"ENABLED"`
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
	// OTLP/HTTP collector URL; spans are only exported when set
	Endpoint string `toml:"endpoint" env:"ENDPOINT"`
}

// DefaultResultTTL matches the cadence at which the dataset is expected to change.
const DefaultResultTTL = 5 * time.Minute

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Analytics: AnalyticsConfig{
			DefaultWindowDays: DefaultWindowDays,
			OrderLimit:        500,
			ResultTTL:         DefaultResultTTL,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:     "memory",
			LocalTTL: DefaultResultTTL,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// SharedConfig returns a multi-instance configuration: PostgreSQL, Redis behind a
// local cache and NATS for invalidation events.
func SharedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresUser: "postgres",
		PostgresDB:   "postgres",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		LocalTTL:       time.Minute,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "http://localhost:4318"
	return cfg
}
