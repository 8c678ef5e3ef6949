// Package repository provides the PostgreSQL storage layer for credit pools,
// plans and notifications.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolOptions fits one API instance running the sweeper alongside
// request traffic.
var DefaultPoolOptions = PoolOptions{
	MaxConns:        20,
	MinConns:        2,
	MaxConnLifetime: time.Hour,
	MaxConnIdleTime: 30 * time.Minute,
}

func (o PoolOptions) apply(config *pgxpool.Config) error {
	if o.MaxConns == 0 {
		o.MaxConns = DefaultPoolOptions.MaxConns
	}
	if o.MinConns == 0 {
		o.MinConns = DefaultPoolOptions.MinConns
	}
	if o.MinConns > o.MaxConns {
		return fmt.Errorf("min conns %d exceeds max conns %d", o.MinConns, o.MaxConns)
	}
	config.MaxConns = o.MaxConns
	config.MinConns = o.MinConns
	if o.MaxConnLifetime > 0 {
		config.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = o.MaxConnIdleTime
	}
	return nil
}

// Repository is the Postgres-backed store for the ledger and the
// notification counter.
type Repository struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string, opts PoolOptions) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if err := opts.apply(config); err != nil {
		return nil, fmt.Errorf("invalid pool options: %w", err)
	}
	config.ConnConfig.RuntimeParams["application_name"] = "entitlements"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Ping reports whether the database answers; used by the readiness check.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Pool exposes the pgx pool to test helpers that reset the schema.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}
