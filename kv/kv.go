// Package kv defines the key/value store abstraction shared by the
// lockout engine, the refresh-token store, and API key lookup. It is the
// first leaf dependency in the acton-service build order (spec.md §2).
package kv

import (
	"context"
	"time"
)

// KeyValueStore is the minimal set of atomic primitives the higher-level
// subsystems need: INCR/EXPIRE for counters, SET-with-TTL/GET/DEL for
// records. Implementations must make each individual call atomic; callers
// compose them (e.g. lockout's record_failure does INCR then
// conditionally EXPIRE) rather than relying on multi-key transactions,
// matching the "store is free to honour TTL natively" contract in
// spec.md §3.1.
type KeyValueStore interface {
	// Get returns the stored value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with an optional TTL (zero means no
	// expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores value under key only if it does not already
	// exist, returning whether the set happened. Used by refresh-token
	// rotation's TTL-only two-step path (spec.md §4.2).
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer stored at key (treating a
	// missing key as zero) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key. It is a no-op (not an error)
	// if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time-to-live for key, or a negative
	// value with ok=false if the key has no TTL or does not exist,
	// mirroring Redis TTL command conventions (-1 no ttl, -2 missing).
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Del removes zero or more keys, returning the number removed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any underlying connections.
	Close() error
}
