package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
)

// TransferSessionData moves every cache key scoped to fromSessionID
// under toSessionID, preserving the default TTL, then deletes the
// originals. Best-effort: a key that fails to copy is never deleted,
// and the caller gets a count of keys actually moved rather than a
// hard failure — this path runs opportunistically and must not block
// the user-visible request.
//
// When the destination already holds its own session record, the
// source record is merged away (destination wins) instead of copied
// over it.
func (m *Manager) TransferSessionData(ctx context.Context, fromSessionID, toSessionID string) (int, error) {
	if fromSessionID == "" || toSessionID == "" || fromSessionID == toSessionID {
		return 0, nil
	}

	fromPrefix := sessionKey(fromSessionID)
	keys, err := m.kv.Keys(ctx, fromPrefix+"*")
	if err != nil {
		return 0, err
	}

	transferred := 0
	for _, key := range keys {
		suffix := strings.TrimPrefix(key, fromPrefix)
		target := sessionKey(toSessionID) + suffix

		if suffix == "" {
			if _, exists, gerr := m.kv.Get(ctx, target); gerr == nil && exists {
				_ = m.kv.Delete(ctx, key)
				continue
			}
		}

		val, found, gerr := m.kv.Get(ctx, key)
		if gerr != nil || !found {
			continue
		}

		// The base record embeds its own id; a copied record must carry
		// the destination id or a later persist would write it back
		// under the source key. Unparseable records copy as-is and
		// degrade to a miss on read.
		if suffix == "" {
			var rec Session
			if uerr := json.Unmarshal([]byte(val), &rec); uerr == nil {
				rec.SessionID = toSessionID
				if b, merr := json.Marshal(rec); merr == nil {
					val = string(b)
				}
			}
		}

		if serr := m.kv.SetWithTTL(ctx, target, val, m.ttl); serr != nil {
			logger.Warn("session key transfer failed", map[string]any{
				"key":   key,
				"error": serr.Error(),
			})
			continue
		}

		_ = m.kv.Delete(ctx, key)
		transferred++
	}
	return transferred, nil
}

// MergeRateLimitData folds the source identity's current-window count
// into the destination's, capped at maxLimit so merging never grants
// budget beyond the limit. The source counter is deleted regardless of
// the merge outcome; a claimed session's counter must never linger.
func (m *Manager) MergeRateLimitData(ctx context.Context, from, to string, windowSeconds, maxLimit int) (int64, error) {
	now := m.now()
	fromKey := ratelimit.WindowKey(from, windowSeconds, now)
	toKey := ratelimit.WindowKey(to, windowSeconds, now)

	defer func() {
		_ = m.kv.Delete(ctx, fromKey)
	}()

	vals, err := m.kv.MGet(ctx, fromKey, toKey)
	if err != nil {
		return 0, err
	}

	sum := parseCount(vals[0]) + parseCount(vals[1])
	if sum > int64(maxLimit) {
		sum = int64(maxLimit)
	}
	if sum == 0 {
		return 0, nil
	}

	ttl := time.Duration(windowSeconds) * time.Second
	if err := m.kv.SetWithTTL(ctx, toKey, strconv.FormatInt(sum, 10), ttl); err != nil {
		return 0, err
	}
	return sum, nil
}

// DeleteAllSessionData removes every session-scoped and rate-limit key
// for sessionID. Used by the DELETE affordance and after a successful
// migration.
func (m *Manager) DeleteAllSessionData(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}

	patterns := []string{
		sessionKey(sessionID) + "*",
		ratelimit.KeyPattern(sessionID),
	}

	deleted := 0
	for _, pattern := range patterns {
		keys, err := m.kv.Keys(ctx, pattern)
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			if derr := m.kv.Delete(ctx, key); derr == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

func parseCount(val *string) int64 {
	if val == nil {
		return 0
	}
	n, err := strconv.ParseInt(*val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
