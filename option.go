package hitstore

import (
	"time"

	"github.com/ryhazerus/hitstore/store"
	"go.uber.org/zap"
)

// DefaultPrefix is prepended to keys when no prefix is configured.
const DefaultPrefix = "def"

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the string prepended to every key. Stores sharing one table
// with different prefixes count independently, except for ResetAll.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLocation sets the path of the SQLite database file. An empty location
// or ":memory:" keeps counters in a transient in-memory database.
func WithLocation(path string) Option {
	return func(s *Store) {
		s.location = path
	}
}

// WithBackend uses b as the persistence substrate instead of opening a SQLite
// database. The location option is ignored and the store takes ownership of b.
func WithBackend(b store.Store) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLogger sets the logger used for lifecycle and sweep events.
// If not provided, nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}
