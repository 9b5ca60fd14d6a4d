// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is satisfied by *pgxpool.Pool and pgxmock pools.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cached_sitemaps (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	period DATE NOT NULL,
	urls JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, period)
)`,
	`CREATE TABLE IF NOT EXISTS cached_articles (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	article_id TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	type INTEGER NOT NULL DEFAULT 0,
	UNIQUE (source, article_id)
)`,
	`CREATE TABLE IF NOT EXISTS crawl_results (
	source TEXT PRIMARY KEY,
	results JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	source TEXT NOT NULL,
	days INTEGER NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	percent INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	error_message TEXT
)`,
	`CREATE INDEX IF NOT EXISTS crawl_runs_started_at_idx ON crawl_runs (started_at DESC)`,
}

// EnsureSchema creates the cache, snapshot and run tables when missing.
func EnsureSchema(ctx context.Context, q querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
