package session

import (
	"context"

	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
)

// ClaimResult summarizes one claim/migration pass.
type ClaimResult struct {
	SessionID      string `json:"sessionId,omitempty"`
	ThreadsClaimed int    `json:"threadsClaimed"`
	MergedCount    int64  `json:"mergedCount"`
	AlreadyClaimed bool   `json:"alreadyClaimed"`
}

// Claim migrates an anonymous session into the authenticated identity
// userID: durable threads are re-owned (session_id retained), the
// session's rate window is merged into the user's, and the session's
// cached state is torn down. The session is located by id, falling back
// to the IP-hash index when the cookie was lost between sign-in
// redirects.
//
// Claim is idempotent. Claiming an already-claimed or unknown session
// is a no-op, because client retries and duplicate effect invocations
// are expected. A short-TTL marker in the KV store makes an in-flight
// claim visible to every server instance.
func (m *Manager) Claim(ctx context.Context, sessionID, ipHash, userID string) (*ClaimResult, error) {
	s, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s == nil && ipHash != "" {
		if sid, found, gerr := m.kv.Get(ctx, ipKey(ipHash)); gerr == nil && found {
			s, err = m.load(ctx, sid)
			if err != nil {
				return nil, err
			}
		}
	}

	if s == nil {
		// Session already expired or torn down; the durable claim is
		// still worth attempting in case threads linger.
		result := &ClaimResult{SessionID: sessionID, AlreadyClaimed: true}
		if sessionID != "" {
			n, cerr := m.durable.ClaimThreads(ctx, sessionID, userID)
			if cerr != nil {
				return nil, cerr
			}
			result.ThreadsClaimed = n
		}
		return result, nil
	}

	if s.State == StateClaimed {
		return &ClaimResult{SessionID: s.SessionID, AlreadyClaimed: true}, nil
	}

	marker := claimMarkerKey(s.SessionID)
	acquired, err := m.kv.SetIfAbsent(ctx, marker, userID, claimMarkerTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &ClaimResult{SessionID: s.SessionID, AlreadyClaimed: true}, nil
	}

	threads, err := m.durable.ClaimThreads(ctx, s.SessionID, userID)
	if err != nil {
		_ = m.kv.Delete(ctx, marker)
		return nil, err
	}

	// Merge the session's window spend into the user's identity so
	// signing in never refreshes a burned budget.
	merged, err := m.MergeRateLimitData(ctx, s.SessionID, "user:"+userID, m.windowSeconds, m.messageLimit)
	if err != nil {
		logger.Warn("rate merge failed during claim", map[string]any{
			"session": s.SessionID,
			"error":   err.Error(),
		})
	}

	m.deleteIndexes(ctx, s)
	if _, err := m.DeleteAllSessionData(ctx, s.SessionID); err != nil {
		logger.Warn("session teardown failed during claim", map[string]any{
			"session": s.SessionID,
			"error":   err.Error(),
		})
	}

	// Tombstone so a retried claim short-circuits as already claimed.
	s.State = StateClaimed
	s.ClaimedBy = userID
	if err := m.persist(ctx, s); err != nil {
		_ = m.kv.Delete(ctx, marker)
		return nil, err
	}

	_ = m.kv.Delete(ctx, marker)

	return &ClaimResult{
		SessionID:      s.SessionID,
		ThreadsClaimed: threads,
		MergedCount:    merged,
	}, nil
}
