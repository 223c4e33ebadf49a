// Package postgres implements the staging, application and credential
// repositories on top of a minimal pgx pool.
package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool the repos need, kept small for easy
// test fakes.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPool creates a pgx connection pool from the provided DSN. Connections
// are recycled after five minutes and reaped after a minute idle so long-lived
// workers don't pin the server.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MinConns = 1
	cfg.MaxConns = 15
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 60 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// LazyPool defers pool creation until a worker first touches the database, so
// processes that never reach a DB stage don't hold connections.
type LazyPool struct {
	dsn  string
	once sync.Once
	pool *pgxpool.Pool
	err  error
}

// NewLazyPool wraps a DSN without connecting.
func NewLazyPool(dsn string) *LazyPool { return &LazyPool{dsn: dsn} }

// Get returns the shared pool, creating it on first use.
func (l *LazyPool) Get(ctx context.Context) (*pgxpool.Pool, error) {
	l.once.Do(func() {
		l.pool, l.err = NewPool(ctx, l.dsn)
	})
	return l.pool, l.err
}

// Close releases the pool if it was ever created.
func (l *LazyPool) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}
