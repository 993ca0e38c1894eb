// Package hitstore keeps per-client hit counts in fixed time windows for rate
// limiting middleware. The middleware decides whether to allow a request; the
// store only answers how many hits a key has and when its window ends.
//
// # Key Concepts
//
//   - [Store] maps prefixed keys to a hit count and a reset time. The reset
//     time is fixed by the first hit of a window and never slides.
//   - Expired entries are removed lazily: every [Store.Increment] deletes all
//     expired rows in the table, and [Store.Shutdown] does so once more.
//     [Store.Get] treats expired rows as absent even before they are swept.
//   - Construction and window setup are separate steps. [New] opens the
//     backing table; [Store.Init] supplies the window length, which belongs to
//     the middleware's configuration. Incrementing before Init panics.
//   - [store.Store] is the persistence substrate. A SQLite table is used by
//     default, in memory unless a file location is given.
//
// # Quick Start
//
//	s, err := hitstore.New(hitstore.WithLocation("hits.db"))
//	if err != nil {
//		return err
//	}
//	defer s.Shutdown(ctx)
//	s.Init(time.Minute)
//
//	info, err := s.Increment(ctx, clientIP)
//	if err != nil {
//		return err
//	}
//	if info.TotalHits > 100 {
//		// reject until info.ResetTime
//	}
//
// [Store.ResetAll] clears the whole table, including keys written by other
// stores that share it under a different prefix.
package hitstore
