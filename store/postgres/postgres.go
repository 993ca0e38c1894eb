// Package postgres provides a hit counter substrate backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ryhazerus/hitstore/store"
)

// Compile-time interface check.
var _ store.Store = (*PostgresStore)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS hits (
		key        TEXT PRIMARY KEY,
		total_hits BIGINT NOT NULL,
		reset_time BIGINT NOT NULL
	)
`

const (
	sweepQuery = `DELETE FROM hits WHERE reset_time <= $1`

	// An expired row is replaced rather than extended.
	incrementQuery = `
		INSERT INTO hits (key, total_hits, reset_time) VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			total_hits = CASE WHEN hits.reset_time <= $3 THEN 1 ELSE hits.total_hits + 1 END,
			reset_time = CASE WHEN hits.reset_time <= $3 THEN EXCLUDED.reset_time ELSE hits.reset_time END
		RETURNING total_hits, reset_time
	`

	decrementQuery = `UPDATE hits SET total_hits = total_hits - 1 WHERE key = $1`
	getQuery       = `SELECT total_hits, reset_time FROM hits WHERE key = $1 AND reset_time > $2`
	deleteQuery    = `DELETE FROM hits WHERE key = $1`
	deleteAllQuery = `DELETE FROM hits`
)

// PostgresStore is a Store backed by a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the hits table if needed and returns a store using
// pool. pgx prepares and caches each query on first use per connection.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("hitstore/store/postgres: create table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Sweep deletes every row whose reset time is at or before now.
func (p *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, sweepQuery, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("hitstore/store/postgres: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Increment inserts or bumps the row for key in a single upsert statement.
func (p *PostgresStore) Increment(ctx context.Context, key string, now, resetTime time.Time) (store.Entry, error) {
	var hits, reset int64
	err := p.pool.QueryRow(ctx, incrementQuery, key, resetTime.UnixMilli(), now.UnixMilli()).Scan(&hits, &reset)
	if err != nil {
		return store.Entry{}, fmt.Errorf("hitstore/store/postgres: increment: %w", err)
	}
	return store.Entry{Key: key, TotalHits: hits, ResetTime: time.UnixMilli(reset)}, nil
}

// Decrement subtracts one from the row for key. Missing rows are left alone.
func (p *PostgresStore) Decrement(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, decrementQuery, key); err != nil {
		return fmt.Errorf("hitstore/store/postgres: decrement: %w", err)
	}
	return nil
}

// Get returns the live row for key.
func (p *PostgresStore) Get(ctx context.Context, key string, now time.Time) (store.Entry, bool, error) {
	var hits, reset int64
	err := p.pool.QueryRow(ctx, getQuery, key, now.UnixMilli()).Scan(&hits, &reset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Entry{}, false, nil
		}

		return store.Entry{}, false, fmt.Errorf("hitstore/store/postgres: get: %w", err)
	}
	return store.Entry{Key: key, TotalHits: hits, ResetTime: time.UnixMilli(reset)}, true, nil
}

// Delete removes the row for key.
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("hitstore/store/postgres: delete: %w", err)
	}
	return nil
}

// DeleteAll empties the hits table.
func (p *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, deleteAllQuery); err != nil {
		return fmt.Errorf("hitstore/store/postgres: delete all: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
