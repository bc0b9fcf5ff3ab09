package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// openMySQL opens a MySQL or MariaDB database connection.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := mysqlDSN(cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	return db, nil
}

// mysqlDSN accepts either a driver DSN or a mysql:// / mariadb:// URL and returns a
// driver DSN that parses DATETIME columns into time.Time in UTC.
func mysqlDSN(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: mysql dsn is required", ErrInvalidInput)
	}

	dsn := raw
	if strings.HasPrefix(raw, "mariadb://") || strings.HasPrefix(raw, "mysql://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}

		c := mysql.NewConfig()
		if u.User != nil {
			c.User = u.User.Username()
			c.Passwd, _ = u.User.Password()
		}
		c.Net = "tcp"
		c.Addr = u.Host
		c.DBName = strings.TrimPrefix(u.Path, "/")
		if c.User == "" || c.Addr == "" || c.DBName == "" {
			return "", fmt.Errorf("%w: incomplete mysql dsn (user/host/db)", ErrInvalidInput)
		}
		dsn = c.FormatDSN()
	}

	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	c.InterpolateParams = true
	return c.FormatDSN(), nil
}
