// Package store defines the [Store] interface for hit counter substrates and
// provides three implementations:
//
//   - [SQLiteStore]: counters in a single SQLite table, either in a file or in
//     a transient in-memory database.
//   - [MemoryStore]: fast, in-memory counters that are lost on restart.
//   - [TieredStore]: a memory cache written through to a persistent store.
//
// Redis and PostgreSQL substrates live in their own modules under store/redis
// and store/postgres. Custom backends can be created by implementing [Store];
// the store/storetest package checks them against the expected semantics.
package store
