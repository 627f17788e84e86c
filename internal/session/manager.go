package session

import (
	"context"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"
)

// Manager drives the anonymous session state machine
// NEW -> ACTIVE -> (EXPIRED | CLAIMED).
type Manager struct {
	cache   *cache.Cache
	kv      kv.Store
	durable store.Store
	limiter *ratelimit.Limiter

	messageLimit  int
	windowSeconds int
	ttl           time.Duration

	now func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMessageLimit sets the per-window message budget.
func WithMessageLimit(limit int) ManagerOption {
	return func(m *Manager) {
		if limit > 0 {
			m.messageLimit = limit
		}
	}
}

// WithWindowSeconds sets the rate-limit window length.
func WithWindowSeconds(seconds int) ManagerOption {
	return func(m *Manager) {
		if seconds > 0 {
			m.windowSeconds = seconds
		}
	}
}

// WithTTL sets the session expiry window.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewManager(c *cache.Cache, durable store.Store, limiter *ratelimit.Limiter, opts ...ManagerOption) *Manager {
	m := &Manager{
		cache:         c,
		kv:            c.Store(),
		durable:       durable,
		limiter:       limiter,
		messageLimit:  10,
		windowSeconds: 3600,
		ttl:           DefaultTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WindowSeconds reports the configured rate window, for callers that
// surface reset times.
func (m *Manager) WindowSeconds() int {
	return m.windowSeconds
}

// MessageLimit reports the configured per-window budget.
func (m *Manager) MessageLimit() int {
	return m.messageLimit
}

func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	var s Session
	found, err := m.cache.Get(ctx, sessionKey(sessionID), &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &s, nil
}

// persist writes the session back with a full TTL. Reads call this
// too: expiration slides on read, not only on write.
func (m *Manager) persist(ctx context.Context, s *Session) error {
	s.LastSeen = m.now()
	return m.cache.SetWithTTL(ctx, sessionKey(s.SessionID), s, m.ttl)
}

// windowStart is the clock-aligned start of the fixed window holding
// now.
func (m *Manager) windowStart(now time.Time) time.Time {
	seconds := int64(m.windowSeconds)
	return time.Unix(now.Unix()/seconds*seconds, 0)
}

// syncWindow zeroes the mirrored message count when the fixed window
// has rolled over since the session was last touched.
func (m *Manager) syncWindow(s *Session) {
	now := m.now()
	if !now.Before(s.ResetTime(m.windowSeconds)) {
		s.MessageCount = 0
		s.WindowStart = m.windowStart(now)
	}
}

// Resolve finds the caller's session or creates one. Resolution order:
// the presented id, then fingerprint/IP-hash recovery (so duplicate
// tabs do not mint duplicate sessions), then a brand-new session. An
// expired or claimed id is treated exactly like an absent one — silent
// recreation, never an error.
func (m *Manager) Resolve(ctx context.Context, sessionID, fingerprintHash, ipHash string) (*Session, bool, error) {
	if s, err := m.load(ctx, sessionID); err != nil {
		return nil, false, err
	} else if s != nil && s.State == StateActive {
		m.syncWindow(s)
		if err := m.persist(ctx, s); err != nil {
			return nil, false, err
		}
		return s, false, nil
	}

	if s, err := m.recover(ctx, fingerprintHash, ipHash); err != nil {
		return nil, false, err
	} else if s != nil {
		return s, false, nil
	}

	s, err := m.mint(ctx, fingerprintHash, ipHash)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// recover looks the visitor up by derived identifiers.
func (m *Manager) recover(ctx context.Context, fingerprintHash, ipHash string) (*Session, error) {
	lookups := []string{}
	if fingerprintHash != "" {
		lookups = append(lookups, fingerprintKey(fingerprintHash))
	}
	if ipHash != "" {
		lookups = append(lookups, ipKey(ipHash))
	}

	for _, key := range lookups {
		sid, found, err := m.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		s, err := m.load(ctx, sid)
		if err != nil {
			return nil, err
		}
		if s == nil || s.State != StateActive {
			continue
		}

		m.syncWindow(s)
		if err := m.persist(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

func (m *Manager) mint(ctx context.Context, fingerprintHash, ipHash string) (*Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		SessionID:       id,
		State:           StateActive,
		MessageLimit:    m.messageLimit,
		WindowStart:     m.windowStart(now),
		FingerprintHash: fingerprintHash,
		IPHash:          ipHash,
		CreatedAt:       now,
	}

	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}

	// Recovery indexes are best-effort; losing one costs a duplicate
	// session, not data.
	if fingerprintHash != "" {
		if err := m.kv.SetWithTTL(ctx, fingerprintKey(fingerprintHash), id, m.ttl); err != nil {
			logger.Warn("failed to write fingerprint index", map[string]any{"error": err.Error()})
		}
	}
	if ipHash != "" {
		if err := m.kv.SetWithTTL(ctx, ipKey(ipHash), id, m.ttl); err != nil {
			logger.Warn("failed to write ip index", map[string]any{"error": err.Error()})
		}
	}
	return s, nil
}

// Get reads a session by id, refreshing its TTL. (nil, nil) when the
// id is unknown or expired.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.load(ctx, sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.State == StateActive {
		m.syncWindow(s)
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// IncrementMessageCount spends one message of the session's window
// budget. The shared fixed-window counter is the source of truth; the
// session record mirrors it for the HTTP response shape.
func (m *Manager) IncrementMessageCount(ctx context.Context, s *Session) error {
	m.syncWindow(s)
	if s.Remaining() == 0 {
		return ErrLimitExceeded
	}

	allowed, err := m.limiter.CheckLimit(ctx, s.SessionID, m.windowSeconds, m.messageLimit)
	if err != nil {
		return err
	}
	if !allowed {
		// A concurrent request consumed the last slot between our
		// budget check and the counter increment.
		s.MessageCount = s.MessageLimit
		_ = m.persist(ctx, s)
		return ErrLimitExceeded
	}

	s.MessageCount++
	return m.persist(ctx, s)
}

// Delete tears the session down completely: record, scoped keys, rate
// counters and recovery indexes.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	s, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if s != nil {
		m.deleteIndexes(ctx, s)
	}

	_, err = m.DeleteAllSessionData(ctx, sessionID)
	return err
}

func (m *Manager) deleteIndexes(ctx context.Context, s *Session) {
	if s.FingerprintHash != "" {
		_ = m.kv.Delete(ctx, fingerprintKey(s.FingerprintHash))
	}
	if s.IPHash != "" {
		_ = m.kv.Delete(ctx, ipKey(s.IPHash))
	}
}
