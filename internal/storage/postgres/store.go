// Package postgres provides the Postgres-backed ingest.Store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by Store. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements ingest.Store on Postgres.
type Store struct {
	pool Pool
	ids  ingest.IDGenerator
}

var _ ingest.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
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
	return &Store{pool: pool, ids: uuid.New()}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, ids ingest.IDGenerator) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{pool: pool, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		origin_url TEXT NOT NULL DEFAULT '',
		feed_url TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		fetch_interval_minutes INTEGER NOT NULL DEFAULT 60,
		last_fetched_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		site TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		published_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		author TEXT NOT NULL DEFAULT '',
		guid TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'tr',
		view_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS articles_fetched_at_idx ON articles (fetched_at)`,
	`CREATE TABLE IF NOT EXISTS financial_data (
		type TEXT NOT NULL,
		code TEXT NOT NULL,
		date DATE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		value DOUBLE PRECISION NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		forex_buying DOUBLE PRECISION,
		forex_selling DOUBLE PRECISION,
		banknote_buying DOUBLE PRECISION,
		banknote_selling DOUBLE PRECISION,
		cross_rate_usd DOUBLE PRECISION,
		cross_rate_other DOUBLE PRECISION,
		PRIMARY KEY (type, code, date)
	)`,
}

// Migrate creates the tables the pipeline reads and writes.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
