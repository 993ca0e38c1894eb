// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ryhazerus/hitstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) store.Store

// base is an arbitrary millisecond-aligned instant used as "now".
var base = time.UnixMilli(1_705_329_000_000)

// Run exercises s against the behaviour every substrate must share.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	window := 2 * time.Second

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)

		_, ok, err := s.Get(ctx, "nobody", base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("increment creates entry", func(t *testing.T) {
		s := newStore(t)

		e, err := s.Increment(ctx, "1.2.3.4", base, base.Add(window))
		require.NoError(t, err)
		assert.Equal(t, "1.2.3.4", e.Key)
		assert.Equal(t, int64(1), e.TotalHits)
		assert.Equal(t, base.Add(window).UnixMilli(), e.ResetTime.UnixMilli())
	})

	t.Run("increment keeps the first reset time", func(t *testing.T) {
		s := newStore(t)

		first := base.Add(window)
		for i := int64(1); i <= 5; i++ {
			now := base.Add(time.Duration(i-1) * 100 * time.Millisecond)
			e, err := s.Increment(ctx, "key", now, now.Add(window))
			require.NoError(t, err)
			assert.Equal(t, i, e.TotalHits)
			assert.Equal(t, first.UnixMilli(), e.ResetTime.UnixMilli(), "increment %d moved the window", i)
		}
	})

	t.Run("increment replaces an expired entry", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Increment(ctx, "key", base, base.Add(window))
		require.NoError(t, err)
		_, err = s.Increment(ctx, "key", base, base.Add(window))
		require.NoError(t, err)

		later := base.Add(window)
		e, err := s.Increment(ctx, "key", later, later.Add(window))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.TotalHits)
		assert.Equal(t, later.Add(window).UnixMilli(), e.ResetTime.UnixMilli())
	})

	t.Run("get returns stored entry", func(t *testing.T) {
		s := newStore(t)

		_, _ = s.Increment(ctx, "key", base, base.Add(window))
		_, _ = s.Increment(ctx, "key", base, base.Add(window))

		e, ok, err := s.Get(ctx, "key", base)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), e.TotalHits)
		assert.Equal(t, base.Add(window).UnixMilli(), e.ResetTime.UnixMilli())
	})

	t.Run("get hides expired entry before sweep", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Increment(ctx, "key", base, base.Add(window))
		require.NoError(t, err)

		_, ok, err := s.Get(ctx, "key", base.Add(window))
		require.NoError(t, err)
		assert.False(t, ok, "entry is expired exactly at its reset time")

		_, ok, err = s.Get(ctx, "key", base.Add(window-time.Millisecond))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reset time has millisecond precision", func(t *testing.T) {
		s := newStore(t)

		now := base.Add(300 * time.Microsecond)
		reset := now.Add(window + 400*time.Microsecond)
		e, err := s.Increment(ctx, "key", now, reset)
		require.NoError(t, err)
		assert.True(t, e.ResetTime.Equal(time.UnixMilli(reset.UnixMilli())),
			"reset time %v should be truncated to %v", e.ResetTime, time.UnixMilli(reset.UnixMilli()))

		// Same millisecond as the reset time, though earlier in nanoseconds.
		_, ok, err := s.Get(ctx, "key", base.Add(window+300*time.Microsecond))
		require.NoError(t, err)
		assert.False(t, ok, "entry is expired within its reset millisecond")

		removed, err := s.Sweep(ctx, base.Add(window+300*time.Microsecond))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("decrement", func(t *testing.T) {
		s := newStore(t)

		_, _ = s.Increment(ctx, "key", base, base.Add(window))
		_, _ = s.Increment(ctx, "key", base, base.Add(window))
		require.NoError(t, s.Decrement(ctx, "key"))

		e, ok, err := s.Get(ctx, "key", base)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), e.TotalHits)
	})

	t.Run("decrement below zero", func(t *testing.T) {
		s := newStore(t)

		_, _ = s.Increment(ctx, "key", base, base.Add(window))
		require.NoError(t, s.Decrement(ctx, "key"))
		require.NoError(t, s.Decrement(ctx, "key"))

		e, ok, err := s.Get(ctx, "key", base)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(-1), e.TotalHits)
	})

	t.Run("decrement missing key is a no-op", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Decrement(ctx, "ghost"))

		_, ok, err := s.Get(ctx, "ghost", base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)

		_, _ = s.Increment(ctx, "key", base, base.Add(window))
		_, _ = s.Increment(ctx, "other", base, base.Add(window))
		require.NoError(t, s.Delete(ctx, "key"))
		require.NoError(t, s.Delete(ctx, "never-there"))

		_, ok, err := s.Get(ctx, "key", base)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Get(ctx, "other", base)
		require.NoError(t, err)
		assert.True(t, ok, "delete must only touch its own key")
	})

	t.Run("delete all", func(t *testing.T) {
		s := newStore(t)

		keys := []string{"a:1.2.3.4", "a:1.2.3.5", "b:1.2.3.6"}
		for _, k := range keys {
			_, err := s.Increment(ctx, k, base, base.Add(window))
			require.NoError(t, err)
		}
		require.NoError(t, s.DeleteAll(ctx))

		for _, k := range keys {
			_, ok, err := s.Get(ctx, k, base)
			require.NoError(t, err)
			assert.False(t, ok, k)
		}
	})

	t.Run("sweep removes only expired entries", func(t *testing.T) {
		s := newStore(t)

		_, _ = s.Increment(ctx, "old1", base, base.Add(window))
		_, _ = s.Increment(ctx, "old2", base, base.Add(window))
		later := base.Add(time.Second)
		_, _ = s.Increment(ctx, "fresh", later, later.Add(window))

		removed, err := s.Sweep(ctx, base.Add(window))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		_, ok, err := s.Get(ctx, "fresh", base.Add(window))
		require.NoError(t, err)
		assert.True(t, ok)

		// A swept key starts a new window.
		e, err := s.Increment(ctx, "old1", base.Add(window), base.Add(2*window))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.TotalHits)
	})

	t.Run("keys are opaque", func(t *testing.T) {
		s := newStore(t)

		key := `'; DROP TABLE hits; --`
		e, err := s.Increment(ctx, key, base, base.Add(window))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.TotalHits)

		e, ok, err := s.Get(ctx, key, base)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, key, e.Key)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Increment(ctx, "hot", base, base.Add(window))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		e, ok, err := s.Get(ctx, "hot", base)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(n), e.TotalHits)
	})
}
