// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Metric is a column or arithmetic expression over superstore columns.
type Metric interface {
	// SQL renders the expression as a SQL fragment.
	SQL() string

	// Canonical is the structural identity of the expression.
	// Two expressions with equal Canonical values aggregate identically.
	Canonical() string

	// Numeric reports whether the expression yields numbers.
	Numeric() bool
}

// Repository defines the read side of the order table.
// Implementations must release their connection before returning.
type Repository interface {
	// Aggregate reduces metric over the rows whose order date falls in r.
	// Returns nil when the reduction is undefined (sum/avg over no values).
	Aggregate(ctx context.Context, metric Metric, kind AggregationKind, r Range) (*float64, error)

	// Detail returns one value per distinct order date in r, ascending.
	Detail(ctx context.Context, metric Metric, kind AggregationKind, r Range) ([]Point, error)

	// DetailByCategory returns one value per (order date, category) in r.
	DetailByCategory(ctx context.Context, metric Metric, kind AggregationKind, r Range) ([]CategoryPoint, error)

	// CategoryBreakdown returns order count and mean profit per (category, sub_category).
	CategoryBreakdown(ctx context.Context, r Range) ([]CategoryStat, error)

	// Orders returns the order rows in r, newest first. limit <= 0 means no limit.
	Orders(ctx context.Context, r Range, limit int) ([]*Order, error)

	// DateRange returns the earliest and latest order dates, nil when the table is empty.
	DateRange(ctx context.Context) (min, max *time.Time, err error)

	// LoadOrders bulk-inserts orders. Used by the dataset loader only.
	LoadOrders(ctx context.Context, orders []*Order) error

	// ReplaceOrders atomically swaps every row for orders. Used by the dataset loader only.
	ReplaceOrders(ctx context.Context, orders []*Order, progress func(int)) error

	// Truncate removes every order. Used by the dataset loader only.
	Truncate(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql"
	Driver string `toml:"driver" env:"DRIVER"`

	// SQLite specific
	SQLitePath string `toml:"sqlite_path" env:"SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `toml:"postgres_host" env:"POSTGRES_HOST"`
	PostgresPort     int    `toml:"postgres_port" env:"POSTGRES_PORT"`
	PostgresUser     string `toml:"postgres_user" env:"POSTGRES_USER"`
	PostgresPassword string `toml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `toml:"postgres_db" env:"POSTGRES_DB"`
	PostgresSSLMode  string `toml:"postgres_sslmode" env:"POSTGRES_SSLMODE"`

	// MySQL / MariaDB specific, either a driver DSN or a mysql:// / mariadb:// URL
	MySQLDSN string `toml:"mysql_dsn" env:"MYSQL_DSN"`

	// Connection pool settings
	MaxOpenConns    int           `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}
