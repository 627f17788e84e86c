// Package session manages the anonymous-visitor lifecycle: identity
// issuance, per-session message budgets, recovery across tab reloads,
// and claim/migration into an authenticated identity. All state lives
// in the shared key-value store; correctness under concurrent requests
// comes from idempotent operations, not locks.
package session

import (
	"errors"
	"time"
)

const (
	// DefaultTTL is the anonymous session window; it slides on every
	// read, so a returning visitor inside the window keeps their
	// session even without writing.
	DefaultTTL = 24 * time.Hour

	keyPrefix         = "session:"
	fingerprintPrefix = "fingerprint:"
	ipPrefix          = "ip:"

	// claimMarkerPrefix keys a short-TTL claim-in-progress lease in the
	// KV store, so concurrent claims across instances observe the same
	// in-flight state.
	claimMarkerPrefix = "claimlock:"
	claimMarkerTTL    = 30 * time.Second
)

// ErrLimitExceeded reports an exhausted per-session message budget. It
// is the one user-visible failure this package produces.
var ErrLimitExceeded = errors.New("session message limit exceeded")

// State is the session lifecycle phase. Expiry is not a stored state;
// it falls out of the TTL.
type State string

const (
	StateActive  State = "active"
	StateClaimed State = "claimed"
)

// Session is the ephemeral per-visitor record kept in the KV store.
type Session struct {
	SessionID       string    `json:"sessionId"`
	State           State     `json:"state"`
	MessageCount    int       `json:"messageCount"`
	MessageLimit    int       `json:"messageLimit"`
	WindowStart     time.Time `json:"windowStart"`
	FingerprintHash string    `json:"fingerprintHash,omitempty"`
	IPHash          string    `json:"ipHash,omitempty"`
	ClaimedBy       string    `json:"claimedBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeen        time.Time `json:"lastSeen"`
}

// Remaining is the unused message budget in the current window.
func (s *Session) Remaining() int {
	remaining := s.MessageLimit - s.MessageCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetTime is when the current rate window rolls over.
func (s *Session) ResetTime(windowSeconds int) time.Time {
	return s.WindowStart.Add(time.Duration(windowSeconds) * time.Second)
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

func fingerprintKey(hash string) string {
	return fingerprintPrefix + hash
}

func ipKey(hash string) string {
	return ipPrefix + hash
}

func claimMarkerKey(sessionID string) string {
	return claimMarkerPrefix + sessionID
}
