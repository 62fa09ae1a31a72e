// Package database opens the pgx pools used by the API and bulk-enrich.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PoolOption configures the connection pool before it is opened.
type PoolOption func(*pgxpool.Config)

// WithVectorTypes registers the pgvector types on every new connection. The vector extension must
// already exist, so the pool that runs migrations must not use it.
func WithVectorTypes() PoolOption {
	return func(c *pgxpool.Config) {
		c.AfterConnect = pgxvec.RegisterTypes
	}
}

// WithMaxConns caps the pool size. Values <= 0 keep the pgxpool default.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithApplicationName tags sessions in pg_stat_activity.
func WithApplicationName(name string) PoolOption {
	return func(c *pgxpool.Config) {
		if name != "" {
			c.ConnConfig.RuntimeParams["application_name"] = name
		}
	}
}

// NewPostgresPool opens a pool and pings it. The pool is closed again when the ping fails.
func NewPostgresPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "connected to postgres",
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
		"application_name", cfg.ConnConfig.RuntimeParams["application_name"],
	)

	return pool, nil
}

// Ping is the "database" readiness check.
func Ping(pool *pgxpool.Pool, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}

		return nil
	}
}
