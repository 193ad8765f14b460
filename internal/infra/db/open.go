// Package db opens the record store and manages its schema.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	sqliteBusyTimeout = 5 * time.Second
	pingTimeout       = 5 * time.Second
)

// PoolConfig sizes the connection pool. Zero fields take the defaults of
// DefaultPoolConfig.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns the pool used when nothing is configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

func (p PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if p.MaxOpenConns > 0 {
		d.MaxOpenConns = p.MaxOpenConns
	}
	if p.MaxIdleConns > 0 {
		d.MaxIdleConns = p.MaxIdleConns
	}
	if p.ConnMaxLifetime > 0 {
		d.ConnMaxLifetime = p.ConnMaxLifetime
	}
	if p.ConnMaxIdleTime > 0 {
		d.ConnMaxIdleTime = p.ConnMaxIdleTime
	}
	d.MaxIdleConns = min(d.MaxIdleConns, d.MaxOpenConns)
	return d
}

// Open opens and pings the store for driver. dsn is a file path for sqlite
// and a connection URL for postgres.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn, pool)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, pool)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// OpenSQLite opens a SQLite file in WAL mode, so searches keep reading while
// the serializer writes, with a busy timeout for lock contention.
func OpenSQLite(ctx context.Context, path string, pool PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db: sqlite path is empty")
	}
	db, err := open(ctx, "sqlite", sqliteDSN(path), pool)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	slog.Info("sqlite store opened", slog.String("path", path))
	return db, nil
}

// OpenPostgres opens a PostgreSQL pool through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: DATABASE_URL not set")
	}
	db, err := open(ctx, "pgx", dsn, pool)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: %w", err)
	}
	slog.Info("postgres store opened")
	return db, nil
}

func open(ctx context.Context, driverName, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	p := pool.withDefaults()
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(p.MaxIdleConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	slog.Debug("connection pool configured",
		slog.String("driver", driverName),
		slog.Int("max_open_conns", p.MaxOpenConns),
		slog.Int("max_idle_conns", p.MaxIdleConns),
		slog.Duration("conn_max_lifetime", p.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", p.ConnMaxIdleTime))
	return db, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, sep, sqliteBusyTimeout.Milliseconds())
}
