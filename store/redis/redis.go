// Package redis provides a hit counter substrate backed by Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/hitstore/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

// DefaultNamespace is prepended to every key the store writes.
const DefaultNamespace = "hits:"

// scanCount is the COUNT hint passed to SCAN while sweeping.
const scanCount = 256

// RedisStore is a Store backed by Redis. Each entry is a Redis hash with
// fields "totalHits" and "resetTime" (epoch milliseconds). Keys also carry a
// PEXPIRE covering the rest of their window so Redis reclaims them without a
// sweep.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithNamespace replaces [DefaultNamespace]. The namespace plays the role of
// the table name: Sweep and DeleteAll only touch keys under it.
func WithNamespace(ns string) Option {
	return func(r *RedisStore) {
		r.namespace = ns
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	r := &RedisStore{client: client, namespace: DefaultNamespace}
	for _, o := range opts {
		o(r)
	}
	return r
}

// incrementScript atomically adds a hit, replacing the entry when it is
// missing or expired. Returns {totalHits, resetTime}.
//
// KEYS[1] = entry key
// ARGV[1] = now (ms)
// ARGV[2] = reset time for a new entry (ms)
// ARGV[3] = ttl for a new entry (ms)
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])

local current = redis.call("HGET", key, "resetTime")
if (not current) or tonumber(current) <= now then
    redis.call("HSET", key, "totalHits", "1", "resetTime", ARGV[2])
    redis.call("PEXPIRE", key, ARGV[3])
    return {1, tonumber(ARGV[2])}
end

local hits = redis.call("HINCRBY", key, "totalHits", 1)
return {hits, tonumber(current)}
`)

// decrementScript subtracts a hit only if the entry exists.
var decrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return redis.call("HINCRBY", KEYS[1], "totalHits", -1)
end
return 0
`)

// sweepScript deletes the entry if its reset time is at or before ARGV[1].
var sweepScript = redis.NewScript(`
local reset = redis.call("HGET", KEYS[1], "resetTime")
if reset and tonumber(reset) <= tonumber(ARGV[1]) then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Sweep scans the namespace and deletes expired entries one key at a time.
func (r *RedisStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := r.scan(ctx, func(keys []string) error {
		for _, k := range keys {
			n, err := sweepScript.Run(ctx, r.client, []string{k}, now.UnixMilli()).Int64()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("hitstore/store/redis: sweep: %w", err)
	}
	return removed, nil
}

// Increment atomically adds a hit to key.
func (r *RedisStore) Increment(ctx context.Context, key string, now, resetTime time.Time) (store.Entry, error) {
	vals, err := incrementScript.Run(ctx, r.client, []string{r.redisKey(key)},
		now.UnixMilli(), resetTime.UnixMilli(), ttl(now, resetTime),
	).Int64Slice()
	if err != nil {
		return store.Entry{}, fmt.Errorf("hitstore/store/redis: increment: %w", err)
	}
	if len(vals) != 2 {
		return store.Entry{}, fmt.Errorf("hitstore/store/redis: increment: unexpected reply %v", vals)
	}

	return store.Entry{Key: key, TotalHits: vals[0], ResetTime: time.UnixMilli(vals[1])}, nil
}

// Decrement subtracts a hit from key if it exists.
func (r *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, r.client, []string{r.redisKey(key)}).Err(); err != nil {
		return fmt.Errorf("hitstore/store/redis: decrement: %w", err)
	}
	return nil
}

// Get returns the live entry for key.
func (r *RedisStore) Get(ctx context.Context, key string, now time.Time) (store.Entry, bool, error) {
	vals, err := r.client.HMGet(ctx, r.redisKey(key), "totalHits", "resetTime").Result()
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("hitstore/store/redis: get: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return store.Entry{}, false, nil
	}

	hits, err := parseInt(vals[0])
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("hitstore/store/redis: parse totalHits: %w", err)
	}
	reset, err := parseInt(vals[1])
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("hitstore/store/redis: parse resetTime: %w", err)
	}

	e := store.Entry{Key: key, TotalHits: hits, ResetTime: time.UnixMilli(reset)}
	if !e.Live(now) {
		return store.Entry{}, false, nil
	}
	return e, true, nil
}

// Delete removes the entry for key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("hitstore/store/redis: delete: %w", err)
	}
	return nil
}

// DeleteAll removes every entry under the store's namespace.
func (r *RedisStore) DeleteAll(ctx context.Context) error {
	err := r.scan(ctx, func(keys []string) error {
		return r.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("hitstore/store/redis: delete all: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.namespace+"*", scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// ttl is at least one millisecond; PEXPIRE with zero deletes the key.
func ttl(now, resetTime time.Time) int64 {
	if ms := resetTime.Sub(now).Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

func (r *RedisStore) redisKey(key string) string {
	return r.namespace + key
}

func parseInt(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
