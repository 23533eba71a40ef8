// Package database connects to the PostgreSQL database holding the query catalog
// when catalog.source is postgres.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/retry"
)

// DB is the catalog connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds catalog database connection settings. Zero values get defaults.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// Retry covers the first connect, so the gateway can start alongside its database.
	// nil uses retry.DefaultConfig.
	Retry *retry.Config
}

// NewConnection opens and pings the catalog pool, retrying transient failures.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = orDefault(cfg.MaxConnections, 10)
	poolConfig.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	poolConfig.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)

	pool, err := retry.DoWithResultIfRetryable(ctx, cfg.Retry, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// OpenSQL opens a database/sql handle on url through the pgx driver, for golang-migrate.
func OpenSQL(url string) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	return stdlib.OpenDB(*connConfig), nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
