// Package kv abstracts the flat string-keyed cache store behind the
// session and conversation layers. Two drivers exist: Redis for
// deployment and an in-memory map for tests.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Store is the contract every driver implements. Absence is reported
// through the found flag, never as an error.
type Store interface {
	// Get returns the raw stored value for key.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetWithTTL stores value under key with a per-key expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores value under key with a per-key expiry only when
	// key does not already exist, in one atomic step. Reports whether the
	// write happened. This is the lease primitive: exactly one of several
	// concurrent callers acquires the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWithTTL increments the integer counter at key and (re)sets its
	// expiry, both issued in one pipeline so a counter is never left
	// without an expiry. Returns the post-increment count.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// MGet reads several keys at once; absent keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	// Keys returns every key matching a trailing-glob pattern
	// ("prefix*"). Maintenance use only; never on a request hot path.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// TTL reports the remaining lifetime of key, or a negative duration
	// when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases driver resources.
	Close() error
}
