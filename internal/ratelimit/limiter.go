// Package ratelimit implements fixed-window request counting over the
// shared key-value store, so every server instance observes the same
// counters.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
)

const keyPrefix = "rate:"

type Limiter struct {
	store kv.Store

	// now is swapped in tests to exercise window rollover.
	now func() time.Time
}

func New(store kv.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// NewWithClock is New with an injected clock, for exercising window
// rollover in tests.
func NewWithClock(store kv.Store, now func() time.Time) *Limiter {
	return &Limiter{store: store, now: now}
}

// WindowKey builds the composite counter key for identity in the fixed
// window containing now. Adjacent windows use distinct keys, so counts
// never carry over; a caller straddling a boundary can burst up to
// twice the limit, an accepted fixed-window tradeoff.
func WindowKey(identity string, windowSeconds int, now time.Time) string {
	bucket := now.Unix() / int64(windowSeconds)
	return keyPrefix + identity + ":" + strconv.FormatInt(bucket, 10)
}

// KeyPattern matches every window key for identity, current and stale.
func KeyPattern(identity string) string {
	return keyPrefix + identity + ":*"
}

// CheckLimit counts this request against identity's current window and
// reports whether it is allowed. The increment and the expiry reset are
// pipelined together; the overflowing increment is still counted, and
// allowed means the post-increment count stayed within maxRequests.
func (l *Limiter) CheckLimit(ctx context.Context, identity string, windowSeconds, maxRequests int) (bool, error) {
	key := WindowKey(identity, windowSeconds, l.now())

	count, err := l.store.IncrWithTTL(ctx, key, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		return false, err
	}
	return count <= int64(maxRequests), nil
}

// RemainingRequests reports identity's unused budget in the current
// window without consuming any of it.
func (l *Limiter) RemainingRequests(ctx context.Context, identity string, windowSeconds, maxRequests int) (int, error) {
	key := WindowKey(identity, windowSeconds, l.now())

	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return maxRequests, nil
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Corrupt counter: treat as empty window.
		return maxRequests, nil
	}

	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CheckMultipleLimits evaluates many identities in two pipelined
// passes: one batched read of the current counters, then increments for
// the identities that still had budget. Identities already at or over
// the limit are never incremented further.
func (l *Limiter) CheckMultipleLimits(ctx context.Context, identities []string, windowSeconds, maxRequests int) (map[string]bool, error) {
	now := l.now()

	keys := make([]string, len(identities))
	for i, identity := range identities {
		keys[i] = WindowKey(identity, windowSeconds, now)
	}

	vals, err := l.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(identities))
	var incrKeys []string
	for i, identity := range identities {
		var count int64
		if vals[i] != nil {
			if n, perr := strconv.ParseInt(*vals[i], 10, 64); perr == nil {
				count = n
			}
		}
		ok := count < int64(maxRequests)
		allowed[identity] = ok
		if ok {
			incrKeys = append(incrKeys, keys[i])
		}
	}

	ttl := time.Duration(windowSeconds) * time.Second
	ops := make([]func(context.Context) (int64, error), len(incrKeys))
	for i, key := range incrKeys {
		key := key
		ops[i] = func(ctx context.Context) (int64, error) {
			return l.store.IncrWithTTL(ctx, key, ttl)
		}
	}
	cache.ExecuteBatch(ctx, ops)

	return allowed, nil
}
