package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// MemoryDSN opens a transient SQLite database that lives as long as the store.
const MemoryDSN = ":memory:"

// filePragmas let several stores share one database file: writers wait for
// the lock instead of failing with SQLITE_BUSY.
const filePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

type statement int

const (
	stmtSweep statement = iota
	stmtIncrement
	stmtDecrement
	stmtGet
	stmtDelete
	stmtDeleteAll
)

// Column names follow the hits table used by existing databases.
const schema = `
	CREATE TABLE IF NOT EXISTS hits (
		key       TEXT PRIMARY KEY,
		totalHits INTEGER,
		resetTime INTEGER
	)
`

var queries = map[statement]string{
	stmtSweep: `DELETE FROM hits WHERE resetTime <= ?`,
	// Arguments: key, resetTime, now, now. The CASE arms read the old row, so
	// an expired entry is replaced rather than extended.
	stmtIncrement: `
		INSERT INTO hits (key, totalHits, resetTime) VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			totalHits = CASE WHEN hits.resetTime <= ? THEN 1 ELSE hits.totalHits + 1 END,
			resetTime = CASE WHEN hits.resetTime <= ? THEN excluded.resetTime ELSE hits.resetTime END
		RETURNING totalHits, resetTime`,
	stmtDecrement: `UPDATE hits SET totalHits = totalHits - 1 WHERE key = ?`,
	stmtGet:       `SELECT totalHits, resetTime FROM hits WHERE key = ? AND resetTime > ? LIMIT 1`,
	stmtDelete:    `DELETE FROM hits WHERE key = ?`,
	stmtDeleteAll: `DELETE FROM hits`,
}

// SQLiteStore is a Store backed by a single SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	stmts map[statement]*sql.Stmt
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path,
// initialises the schema and prepares every statement the store uses.
// An empty path or [MemoryDSN] selects a transient in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("hitstore/store: open sqlite: %w", err)
	}

	// One connection serialises writers and keeps an in-memory database alive
	// for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("hitstore/store: create table: %w", err)
	}

	s := &SQLiteStore{db: db, stmts: make(map[statement]*sql.Stmt, len(queries))}
	for name, query := range queries {
		stmt, err := db.Prepare(query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("hitstore/store: prepare statement %d: %w", name, err)
		}
		s.stmts[name] = stmt
	}

	return s, nil
}

// withPragmas appends filePragmas to a file DSN. In-memory databases are
// private to their connection and are left as they are.
func withPragmas(dsn string) string {
	if dsn == MemoryDSN || strings.HasPrefix(dsn, "file::memory:") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + filePragmas
	}
	return dsn + "?" + filePragmas
}

// Sweep deletes every row whose reset time is at or before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.stmts[stmtSweep].ExecContext(ctx, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("hitstore/store: sweep: %w", err)
	}
	return res.RowsAffected()
}

// Increment inserts or bumps the row for key in a single upsert statement.
func (s *SQLiteStore) Increment(ctx context.Context, key string, now, resetTime time.Time) (Entry, error) {
	nowMs := now.UnixMilli()

	var hits, reset int64
	err := s.stmts[stmtIncrement].QueryRowContext(ctx, key, resetTime.UnixMilli(), nowMs, nowMs).Scan(&hits, &reset)
	if err != nil {
		return Entry{}, fmt.Errorf("hitstore/store: increment: %w", err)
	}

	return Entry{Key: key, TotalHits: hits, ResetTime: time.UnixMilli(reset)}, nil
}

// Decrement subtracts one from the row for key. Missing rows are left alone.
func (s *SQLiteStore) Decrement(ctx context.Context, key string) error {
	if _, err := s.stmts[stmtDecrement].ExecContext(ctx, key); err != nil {
		return fmt.Errorf("hitstore/store: decrement: %w", err)
	}
	return nil
}

// Get returns the live row for key.
func (s *SQLiteStore) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	var hits, reset int64
	err := s.stmts[stmtGet].QueryRowContext(ctx, key, now.UnixMilli()).Scan(&hits, &reset)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("hitstore/store: get: %w", err)
	}

	return Entry{Key: key, TotalHits: hits, ResetTime: time.UnixMilli(reset)}, true, nil
}

// Delete removes the row for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.stmts[stmtDelete].ExecContext(ctx, key); err != nil {
		return fmt.Errorf("hitstore/store: delete: %w", err)
	}
	return nil
}

// DeleteAll empties the hits table.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.stmts[stmtDeleteAll].ExecContext(ctx); err != nil {
		return fmt.Errorf("hitstore/store: delete all: %w", err)
	}
	return nil
}

// Close finalises the prepared statements and closes the database.
func (s *SQLiteStore) Close() error {
	var errs []error
	for _, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
