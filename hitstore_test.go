package hitstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ryhazerus/hitstore"
	"github.com/ryhazerus/hitstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testWindow = 2000 * time.Millisecond

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_705_329_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...hitstore.Option) *hitstore.Store {
	t.Helper()
	s, err := hitstore.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	s.Init(testWindow)
	return s
}

func TestStoreGetUnknownKey(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreIncrement(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, hitstore.WithClock(clock.Now))
	ctx := context.Background()
	start := clock.Now()

	for i := int64(1); i <= 5; i++ {
		info, err := s.Increment(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, i, info.TotalHits)
		assert.Equal(t, start.Add(testWindow).UnixMilli(), info.ResetTime.UnixMilli(),
			"reset time must stay fixed within a window")
		clock.Advance(100 * time.Millisecond)
	}
}

func TestStoreIncrementResetTimeWithRealClock(t *testing.T) {
	s := newTestStore(t)

	before := time.Now()
	info, err := s.Increment(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	assert.True(t, info.ResetTime.After(before), "reset time %v should be after %v", info.ResetTime, before)
	assert.WithinDuration(t, before.Add(testWindow), info.ResetTime, 500*time.Millisecond)
}

func TestStoreScenario(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"sqlite": func(t *testing.T) store.Store {
			b, err := store.NewSQLiteStore(store.MemoryDSN)
			require.NoError(t, err)
			return b
		},
		"memory": func(t *testing.T) store.Store {
			return store.NewMemoryStore()
		},
		"tiered": func(t *testing.T) store.Store {
			b, err := store.NewSQLiteStore(store.MemoryDSN)
			require.NoError(t, err)
			return store.NewTieredStore(b)
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, hitstore.WithBackend(newBackend(t)))
			ctx := context.Background()

			info, err := s.Increment(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, int64(1), info.TotalHits)

			_, err = s.Increment(ctx, "a")
			require.NoError(t, err)
			info, err = s.Increment(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, int64(3), info.TotalHits)

			require.NoError(t, s.Decrement(ctx, "a"))
			got, ok, err := s.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(2), got.TotalHits)
			assert.Equal(t, info.ResetTime.UnixMilli(), got.ResetTime.UnixMilli())

			require.NoError(t, s.ResetKey(ctx, "a"))
			_, ok, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreDecrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("after two increments", func(t *testing.T) {
		s.Increment(ctx, "twice")
		s.Increment(ctx, "twice")
		require.NoError(t, s.Decrement(ctx, "twice"))

		info, ok, err := s.Get(ctx, "twice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), info.TotalHits)
	})

	t.Run("missing key", func(t *testing.T) {
		require.NoError(t, s.Decrement(ctx, "missing"))

		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok, "decrement must not create an entry")
	})

	t.Run("past zero", func(t *testing.T) {
		s.Increment(ctx, "under")
		require.NoError(t, s.Decrement(ctx, "under"))
		require.NoError(t, s.Decrement(ctx, "under"))

		info, ok, err := s.Get(ctx, "under")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(-1), info.TotalHits)
	})
}

func TestStoreResetAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{"1.2.3.4", "1.2.3.5", "1.2.3.6"}
	for _, k := range keys {
		_, err := s.Increment(ctx, k)
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetAll(ctx))

	for _, k := range keys {
		_, ok, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestStoreIncrementSweepsOtherKeys(t *testing.T) {
	clock := newFakeClock()
	backend := store.NewMemoryStore()
	s := newTestStore(t, hitstore.WithBackend(backend), hitstore.WithClock(clock.Now))
	ctx := context.Background()
	start := clock.Now()

	_, err := s.Increment(ctx, "x")
	require.NoError(t, err)

	clock.Advance(testWindow)
	_, err = s.Increment(ctx, "y")
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	// The row is physically gone, not just hidden.
	_, ok, err = backend.Get(ctx, s.PrefixKey("x"), start)
	require.NoError(t, err)
	assert.False(t, ok, "increment of y should have swept x")
}

func TestStoreGetHidesExpiredBeforeSweep(t *testing.T) {
	clock := newFakeClock()
	backend := store.NewMemoryStore()
	s := newTestStore(t, hitstore.WithBackend(backend), hitstore.WithClock(clock.Now))
	ctx := context.Background()
	start := clock.Now()

	_, err := s.Increment(ctx, "x")
	require.NoError(t, err)

	clock.Advance(testWindow - time.Millisecond)
	_, ok, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok, "entry is live until its reset time")

	clock.Advance(time.Millisecond)
	_, ok, err = s.Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok, "entry is expired at its reset time")

	// Get does not sweep: the row is still there.
	_, ok, err = backend.Get(ctx, s.PrefixKey("x"), start)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreIncrementStartsNewWindow(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, hitstore.WithClock(clock.Now))
	ctx := context.Background()

	s.Increment(ctx, "key")
	s.Increment(ctx, "key")

	clock.Advance(testWindow + time.Millisecond)
	info, err := s.Increment(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TotalHits)
	assert.Equal(t, clock.Now().Add(testWindow).UnixMilli(), info.ResetTime.UnixMilli())
}

func TestStorePrefixIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.db")
	ctx := context.Background()

	a := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("login:"))
	b := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("search:"))

	a.Increment(ctx, "1.2.3.4")
	a.Increment(ctx, "1.2.3.4")
	info, err := b.Increment(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.TotalHits, "prefixes must not share counts")

	require.NoError(t, b.ResetKey(ctx, "1.2.3.4"))
	got, ok, err := a.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok, "ResetKey must only touch its own prefix")
	assert.Equal(t, int64(2), got.TotalHits)
}

func TestStoreResetAllIgnoresPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.db")
	ctx := context.Background()

	a := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("login:"))
	b := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("search:"))

	a.Increment(ctx, "1.2.3.4")
	b.Increment(ctx, "1.2.3.4")

	require.NoError(t, b.ResetAll(ctx))

	_, ok, err := a.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "ResetAll clears every prefix in the table")
}

func TestStoreSharedFileConcurrentPrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.db")
	ctx := context.Background()

	a := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("a:"))
	b := newTestStore(t, hitstore.WithLocation(path), hitstore.WithPrefix("b:"))

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)

	for _, s := range []*hitstore.Store{a, b} {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Increment(ctx, "k")
				errs <- err
			}()
		}
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for _, s := range []*hitstore.Store{a, b} {
		info, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok, s.Prefix())
		assert.Equal(t, int64(n), info.TotalHits, s.Prefix())
	}
}

func TestStoreIncrementBeforeInitPanics(t *testing.T) {
	s, err := hitstore.New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	assert.PanicsWithValue(t, "hitstore: Increment called before Init", func() {
		s.Increment(context.Background(), "key")
	})
}

func TestStoreOperationsBeforeInit(t *testing.T) {
	s, err := hitstore.New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	assert.Zero(t, s.Window())

	_, ok, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Decrement(ctx, "key"))
	assert.NoError(t, s.ResetKey(ctx, "key"))
	assert.NoError(t, s.ResetAll(ctx))
}

func TestStoreInitRejectsNonPositiveWindow(t *testing.T) {
	s, err := hitstore.New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	assert.Panics(t, func() { s.Init(0) })
	assert.Panics(t, func() { s.Init(-time.Second) })

	s.Init(time.Minute)
	assert.Equal(t, time.Minute, s.Window())
}

func TestStoreShutdown(t *testing.T) {
	s, err := hitstore.New()
	require.NoError(t, err)
	s.Init(testWindow)
	ctx := context.Background()

	_, err = s.Increment(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")

	_, err = s.Increment(ctx, "key")
	assert.ErrorIs(t, err, hitstore.ErrStoreClosed)
	_, _, err = s.Get(ctx, "key")
	assert.ErrorIs(t, err, hitstore.ErrStoreClosed)
	assert.ErrorIs(t, s.Decrement(ctx, "key"), hitstore.ErrStoreClosed)
	assert.ErrorIs(t, s.ResetKey(ctx, "key"), hitstore.ErrStoreClosed)
	assert.ErrorIs(t, s.ResetAll(ctx), hitstore.ErrStoreClosed)
}

func TestStoreShutdownSweepsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.db")
	clock := newFakeClock()
	ctx := context.Background()
	start := clock.Now()

	s, err := hitstore.New(hitstore.WithLocation(path), hitstore.WithClock(clock.Now))
	require.NoError(t, err)
	s.Init(testWindow)

	s.Increment(ctx, "expired")
	clock.Advance(time.Second)
	s.Increment(ctx, "live")
	clock.Advance(time.Second)
	require.NoError(t, s.Shutdown(ctx))

	raw, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer raw.Close()

	_, ok, err := raw.Get(ctx, hitstore.DefaultPrefix+"expired", start)
	require.NoError(t, err)
	assert.False(t, ok, "shutdown should sweep expired rows")

	_, ok, err = raw.Get(ctx, hitstore.DefaultPrefix+"live", start)
	require.NoError(t, err)
	assert.True(t, ok, "shutdown must keep live rows")
}

func TestStoreConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "hot")
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	info, ok, err := s.Get(ctx, "hot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(n), info.TotalHits)
}

func TestStoreLogsSweep(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clock := newFakeClock()
	s := newTestStore(t, hitstore.WithLogger(zap.New(core)), hitstore.WithClock(clock.Now))
	ctx := context.Background()

	s.Increment(ctx, "a")
	s.Increment(ctx, "b")
	clock.Advance(testWindow)
	s.Increment(ctx, "c")

	swept := logs.FilterMessage("swept expired entries").All()
	require.Len(t, swept, 1)
	assert.Equal(t, int64(2), swept[0].ContextMap()["removed"])
}

func TestNewCannotOpenStore(t *testing.T) {
	location := filepath.Join(t.TempDir(), "no", "such", "dir", "hits.db")

	s, err := hitstore.New(hitstore.WithLocation(location))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, hitstore.ErrCannotOpenStore))

	var openErr *hitstore.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, location, openErr.Location)
}
