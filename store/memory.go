package store

import (
	"context"
	"sync"
	"time"
)

type row struct {
	totalHits int64
	resetTime time.Time
}

func (r *row) expired(now time.Time) bool {
	return r.resetTime.UnixMilli() <= now.UnixMilli()
}

// truncate drops sub-millisecond precision and the monotonic reading, matching
// what the SQL and Redis substrates hand back.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. Counters are lost on process restart.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*row
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*row),
	}
}

// Sweep drops every row whose reset time is at or before now.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, r := range m.rows {
		if r.expired(now) {
			delete(m.rows, key)
			removed++
		}
	}
	return removed, nil
}

// Increment atomically adds one hit to key, starting a new window if the
// current one is missing or over.
func (m *MemoryStore) Increment(_ context.Context, key string, now, resetTime time.Time) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[key]
	if !ok || r.expired(now) {
		r = &row{resetTime: truncate(resetTime)}
		m.rows[key] = r
	}

	r.totalHits++
	return Entry{Key: key, TotalHits: r.totalHits, ResetTime: r.resetTime}, nil
}

// Decrement subtracts one hit from key if it has a row.
func (m *MemoryStore) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rows[key]; ok {
		r.totalHits--
	}
	return nil
}

// Get returns the live row for key.
func (m *MemoryStore) Get(_ context.Context, key string, now time.Time) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[key]
	if !ok || r.expired(now) {
		return Entry{}, false, nil
	}
	return Entry{Key: key, TotalHits: r.totalHits, ResetTime: r.resetTime}, true, nil
}

// Delete removes the row for key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rows, key)
	return nil
}

// DeleteAll removes every row.
func (m *MemoryStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = make(map[string]*row)
	return nil
}

// put stores a copy of e, replacing any existing row.
func (m *MemoryStore) put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[e.Key] = &row{totalHits: e.TotalHits, resetTime: truncate(e.ResetTime)}
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
