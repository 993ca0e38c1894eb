package store

import (
	"context"
	"time"
)

// Entry is one row of the hits table.
type Entry struct {
	Key       string
	TotalHits int64
	ResetTime time.Time
}

// Live reports whether the entry's window is still open at now. Reset times
// are kept in epoch milliseconds, so the comparison is too.
func (e Entry) Live(now time.Time) bool {
	return e.ResetTime.UnixMilli() > now.UnixMilli()
}

// Store defines the persistence substrate for hit counters. Keys are passed
// through verbatim; namespacing is the caller's job.
type Store interface {
	// Sweep deletes every entry whose reset time is at or before now and
	// returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (removed int64, err error)

	// Increment atomically adds one hit to the live entry for key. If there is
	// no entry, or the entry expired at or before now, it is replaced by a new
	// one with a single hit that resets at resetTime.
	Increment(ctx context.Context, key string, now, resetTime time.Time) (Entry, error)

	// Decrement subtracts one hit from the entry for key, if any. The count is
	// not floored at zero.
	Decrement(ctx context.Context, key string) error

	// Get returns the entry for key. Entries that expired at or before now are
	// reported as absent even if they have not been swept yet.
	Get(ctx context.Context, key string, now time.Time) (Entry, bool, error)

	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every entry in the table.
	DeleteAll(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
