package hitstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ryhazerus/hitstore/store"
	"go.uber.org/zap"
)

// ClientInfo is the hit count and window end recorded for one client.
type ClientInfo struct {
	TotalHits int64
	ResetTime time.Time
}

// Store counts hits per client key in fixed windows. It is the entry point for
// rate limiting middleware: the middleware owns the window length and the
// allow/deny decision, the Store only keeps the counts.
//
// A Store is created with New and becomes able to count once Init supplies
// the window length. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	state    state
	window   time.Duration
	prefix   string
	location string
	backend  store.Store
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Store with the given options. Unless WithBackend is used, it
// opens (or creates) the SQLite database named by WithLocation, or a transient
// in-memory one when no location is set. A location that cannot be opened
// yields an *OpenError; there is no fallback to transient storage.
func New(opts ...Option) (*Store, error) {
	s := &Store{prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.backend == nil {
		b, err := store.NewSQLiteStore(s.location)
		if err != nil {
			return nil, &OpenError{Location: s.location, Err: err}
		}
		s.backend = b
	}

	s.logger.Debug("hit store opened",
		zap.String("prefix", s.prefix),
		zap.String("location", s.location),
	)

	return s, nil
}

// Init sets the window length and makes the store ready to count. It may be
// called again to change the window; existing entries keep their reset time.
// Init panics if window is not positive.
func (s *Store) Init(window time.Duration) {
	if window <= 0 {
		panic(fmt.Sprintf("hitstore: window must be positive, got %v", window))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = window
	if s.state == stateConstructed {
		s.state = stateReady
	}

	s.logger.Debug("hit store initialised",
		zap.Duration("window", window),
		zap.Stringer("state", s.state),
	)
}

// Prefix returns the string prepended to every key.
func (s *Store) Prefix() string {
	return s.prefix
}

// Window returns the window length set by Init, or zero before Init.
func (s *Store) Window() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// PrefixKey returns the key as stored in the table.
func (s *Store) PrefixKey(key string) string {
	return s.prefix + key
}

// Increment records a hit for key and returns the updated count and the time
// the key's window ends. Every call first deletes all expired entries in the
// table, for any key. The first hit of a window fixes its reset time at
// now + window; later hits do not move it.
//
// Increment panics if Init has not been called.
func (s *Store) Increment(ctx context.Context, key string) (ClientInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case stateConstructed:
		panic("hitstore: Increment called before Init")
	case stateShutdown:
		return ClientInfo{}, ErrStoreClosed
	}

	now := s.now()
	if err := s.sweep(ctx, now); err != nil {
		return ClientInfo{}, err
	}

	e, err := s.backend.Increment(ctx, s.PrefixKey(key), now, now.Add(s.window))
	if err != nil {
		return ClientInfo{}, fmt.Errorf("hitstore: increment %q: %w", key, err)
	}

	return ClientInfo{TotalHits: e.TotalHits, ResetTime: e.ResetTime}, nil
}

// Decrement removes one hit from key. It does nothing if key has no entry and
// does not stop at zero.
func (s *Store) Decrement(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateShutdown {
		return ErrStoreClosed
	}

	if err := s.backend.Decrement(ctx, s.PrefixKey(key)); err != nil {
		return fmt.Errorf("hitstore: decrement %q: %w", key, err)
	}
	return nil
}

// Get returns the hit count and reset time for key. The boolean is false if
// key has no entry or its window has ended, whether or not the expired row
// has been swept yet. Get never sweeps.
func (s *Store) Get(ctx context.Context, key string) (ClientInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateShutdown {
		return ClientInfo{}, false, ErrStoreClosed
	}

	e, ok, err := s.backend.Get(ctx, s.PrefixKey(key), s.now())
	if err != nil {
		return ClientInfo{}, false, fmt.Errorf("hitstore: get %q: %w", key, err)
	}
	if !ok {
		return ClientInfo{}, false, nil
	}

	return ClientInfo{TotalHits: e.TotalHits, ResetTime: e.ResetTime}, true, nil
}

// ResetKey deletes the entry for key.
func (s *Store) ResetKey(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateShutdown {
		return ErrStoreClosed
	}

	if err := s.backend.Delete(ctx, s.PrefixKey(key)); err != nil {
		return fmt.Errorf("hitstore: reset %q: %w", key, err)
	}
	return nil
}

// ResetAll deletes every entry in the table.
//
// This ignores the prefix: it also clears counters written by other stores
// that share the same table under a different prefix.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateShutdown {
		return ErrStoreClosed
	}

	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("hitstore: reset all: %w", err)
	}
	s.logger.Debug("hit store reset", zap.String("prefix", s.prefix))
	return nil
}

// Shutdown deletes expired entries one last time and closes the backend.
// Calls after the first return nil; other methods return ErrStoreClosed.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateShutdown {
		return nil
	}
	s.state = stateShutdown

	sweepErr := s.sweep(ctx, s.now())
	closeErr := s.backend.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("hitstore: close backend: %w", closeErr)
	}

	s.logger.Debug("hit store shut down", zap.String("prefix", s.prefix))
	return errors.Join(sweepErr, closeErr)
}

func (s *Store) sweep(ctx context.Context, now time.Time) error {
	removed, err := s.backend.Sweep(ctx, now)
	if err != nil {
		return fmt.Errorf("hitstore: sweep expired: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("swept expired entries", zap.Int64("removed", removed))
	}
	return nil
}
