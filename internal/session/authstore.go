package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
)

const authKeyPrefix = "auth:"

// AuthSession is an authenticated user's server-side session. It
// stores identity pointers only, never auth state.
type AuthSession struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthStore persists authenticated sessions. Implementations must
// remain stateless and opaque.
type AuthStore interface {
	Create(ctx context.Context, s AuthSession) error
	Get(ctx context.Context, sessionID string) (*AuthSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// KVAuthStore keeps authenticated sessions in the shared KV store.
type KVAuthStore struct {
	cache *cache.Cache
}

func NewKVAuthStore(c *cache.Cache) *KVAuthStore {
	return &KVAuthStore{cache: c}
}

func authKey(sessionID string) string {
	return authKeyPrefix + sessionID
}

func (s *KVAuthStore) Create(ctx context.Context, sess AuthSession) error {
	if sess.SessionID == "" || sess.UserID == "" {
		return fmt.Errorf("session: missing session_id or user_id")
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	return s.cache.SetWithTTL(ctx, authKey(sess.SessionID), sess, ttl)
}

func (s *KVAuthStore) Get(ctx context.Context, sessionID string) (*AuthSession, error) {
	var sess AuthSession
	found, err := s.cache.Get(ctx, authKey(sessionID), &sess)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &sess, nil
}

func (s *KVAuthStore) Delete(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, authKey(sessionID))
}
