package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent backend
// (durable path). Increments go to the persistent store first and the result
// is cached in memory; reads check memory first and fall back to the
// persistent store on a miss.
//
// The memory tier only reflects writes made through this TieredStore. Do not
// share the persistent backend with other writers.
type TieredStore struct {
	// mu orders writes to both tiers so the cache never holds an older
	// result than the persistent store. Reads hold it shared, so a read sees
	// either all or none of a concurrent write.
	mu         sync.RWMutex
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(),
		persistent: persistent,
	}
}

// Sweep removes expired rows from both tiers and reports the persistent count.
func (t *TieredStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Sweep(ctx, now)
	return t.persistent.Sweep(ctx, now)
}

// Increment writes to the persistent backend, which is the source of truth
// for the returned entry, and caches the result.
func (t *TieredStore) Increment(ctx context.Context, key string, now, resetTime time.Time) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.persistent.Increment(ctx, key, now, resetTime)
	if err != nil {
		return Entry{}, err
	}

	t.memory.put(e)
	return e, nil
}

// Decrement updates the persistent backend and drops the cached row so the
// next read picks up the new count.
func (t *TieredStore) Decrement(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Delete(ctx, key)
	return t.persistent.Decrement(ctx, key)
}

// Get reads from memory first. On a miss it falls back to the persistent
// store and backfills memory.
func (t *TieredStore) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	t.mu.RLock()
	e, ok, _ := t.memory.Get(ctx, key, now)
	t.mu.RUnlock()
	if ok {
		return e, true, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// A write may have cached the key while the lock was released.
	if e, ok, _ := t.memory.Get(ctx, key, now); ok {
		return e, true, nil
	}

	e, ok, err := t.persistent.Get(ctx, key, now)
	if err != nil || !ok {
		return Entry{}, false, err
	}

	t.memory.put(e)
	return e, true, nil
}

// Delete removes the row from both stores.
func (t *TieredStore) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Delete(ctx, key)
	return t.persistent.Delete(ctx, key)
}

// DeleteAll empties both stores.
func (t *TieredStore) DeleteAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.DeleteAll(ctx)
	return t.persistent.DeleteAll(ctx)
}

// Close closes both tiers.
func (t *TieredStore) Close() error {
	return errors.Join(t.memory.Close(), t.persistent.Close())
}
