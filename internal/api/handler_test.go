package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/convo"
	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
	"github.com/kelvinguchu/t3clone-sub002/internal/middleware"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
	"github.com/kelvinguchu/t3clone-sub002/internal/retry"
	"github.com/kelvinguchu/t3clone-sub002/internal/session"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	router    *gin.Engine
	durable   *store.Memory
	authStore *session.KVAuthStore
}

func newHarness(t *testing.T, opts ...session.ManagerOption) *harness {
	t.Helper()

	kvs, err := kv.NewStore(kv.StoreTypeMemory)
	require.NoError(t, err)

	c := cache.New(kvs)
	limiter := ratelimit.New(kvs)
	durable := store.NewMemory()
	sessions := session.NewManager(c, durable, limiter, opts...)
	authStore := session.NewKVAuthStore(c)

	h := NewHandler(sessions, limiter, convo.New(c), retry.New(durable), durable, "test-salt", 100)

	router := gin.New()
	h.RegisterRoutes(router, middleware.NewAuthMiddleware(authStore))

	return &harness{router: router, durable: durable, authStore: authStore}
}

// client carries cookies between requests the way a browser would.
// Fingerprint and remote address are per-client so tests can model
// distinct visitors against one router.
type client struct {
	t           *testing.T
	router      *gin.Engine
	cookies     map[string]string
	fingerprint string
	remoteAddr  string
}

func newClient(t *testing.T, h *harness) *client {
	return &client{t: t, router: h.router, cookies: map[string]string{}}
}

func (c *client) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.fingerprint != "" {
		req.Header.Set("X-Client-Fingerprint", c.fingerprint)
	}
	if c.remoteAddr != "" {
		req.RemoteAddr = c.remoteAddr
	}
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie.Value
	}

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func (c *client) signIn(h *harness, userID string) {
	c.t.Helper()
	require.NoError(c.t, h.authStore.Create(context.Background(), session.AuthSession{
		SessionID: "auth-" + userID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	c.cookies[session.AuthCookieName] = "auth-" + userID
}

// TestAnonymousToClaimedLifecycle walks the whole flow: mint a session,
// chat until the window budget runs out, sign in, claim, keep chatting
// on the user's own budget.
func TestAnonymousToClaimedLifecycle(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)

	w, body := c.do(http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["isNew"])
	require.Equal(t, float64(10), body["remainingMessages"])
	sessionID := body["sessionId"].(string)
	require.Equal(t, sessionID, c.cookies[session.AnonCookieName])

	w, body = c.do(http.MethodPost, "/threads", map[string]any{"title": "first chat"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, true, body["isAnonymous"])
	threadID := body["threadId"].(string)

	for i := 0; i < 10; i++ {
		w, body = c.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
			"content": "message " + string(rune('a'+i)),
		})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, true, body["saved"])
		require.Equal(t, float64(9-i), body["remainingMessages"])
	}

	// Eleventh message in the window is refused with a reset hint.
	w, body = c.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
		"content": "one too many",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, float64(0), body["remainingMessages"])
	require.NotEmpty(t, body["resetTime"])

	// Sign in and claim the anonymous history.
	c.signIn(h, "user-1")
	w, body = c.do(http.MethodPost, "/session/claim", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["threadsClaimed"])

	// Claiming clears the anonymous cookie.
	require.NotContains(t, c.cookies, session.AnonCookieName)

	claimed, err := h.durable.Thread(context.Background(), threadID)
	require.NoError(t, err)
	require.Equal(t, "user-1", claimed.UserID)
	require.False(t, claimed.IsAnonymous)
	require.Equal(t, sessionID, claimed.SessionID)

	// The merged spend counts against the user limit (100), so the
	// next turn goes through.
	w, body = c.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
		"content": "back again, signed in",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["saved"])
}

func TestGetSession_RecreatesExpiredSilently(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)
	c.cookies[session.AnonCookieName] = "stale-or-forged-id"

	w, body := c.do(http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["isNew"])
	require.NotEqual(t, "stale-or-forged-id", body["sessionId"])
	require.Equal(t, body["sessionId"], c.cookies[session.AnonCookieName])
}

func TestPostMessage_RetryIsNotPersistedTwice(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)

	c.do(http.MethodPost, "/session", nil)
	_, body := c.do(http.MethodPost, "/threads", nil)
	threadID := body["threadId"].(string)

	w, body := c.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{"content": "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["saved"])

	// Same content again, no assistant turn in between: a retry.
	w, body = c.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{"content": "Hello"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, body["saved"])

	msgs, err := h.durable.MessagesByThread(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestPostMessage_RejectsForeignSessionThread(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)

	foreign := &store.Thread{SessionID: "someone-else", IsAnonymous: true}
	require.NoError(t, h.durable.CreateThread(context.Background(), foreign))

	w, body := c.do(http.MethodPost, "/threads/"+foreign.ID+"/messages", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "session_mismatch", body["code"])
}

func TestPostMessage_RejectsForeignUserThread(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)
	c.signIn(h, "user-2")

	foreign := &store.Thread{UserID: "user-1"}
	require.NoError(t, h.durable.CreateThread(context.Background(), foreign))

	w, body := c.do(http.MethodPost, "/threads/"+foreign.ID+"/messages", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ownership_mismatch", body["code"])
}

func TestCacheEndpoints_Roundtrip(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)

	w, _ := c.do(http.MethodPost, "/cache/message", map[string]any{
		"threadId": "t1",
		"message": map[string]any{
			"role":    "user",
			"content": "cached turn",
		},
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := c.do(http.MethodGet, "/cache/context/t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conv := body["context"].(map[string]any)
	require.Equal(t, "s1", conv["sessionId"])
	require.Equal(t, float64(1), conv["messageCount"])

	// Absence is a valid state, not an error.
	w, body = c.do(http.MethodGet, "/cache/context/unknown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, body["context"])
}

func TestDeleteSession_ClearsCookieAndState(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h)

	_, body := c.do(http.MethodPost, "/session", nil)
	sessionID := body["sessionId"].(string)

	w, body := c.do(http.MethodDelete, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["deleted"])
	require.NotContains(t, c.cookies, session.AnonCookieName)

	// Re-resolving by the deleted id mints a fresh session.
	c.cookies[session.AnonCookieName] = sessionID
	_, body = c.do(http.MethodGet, "/session", nil)
	require.Equal(t, true, body["isNew"])
	require.NotEqual(t, sessionID, body["sessionId"])
}

func TestTransferSession_MovesScopedStateAndCapsSpend(t *testing.T) {
	h := newHarness(t)

	// Two tabs, two sessions, separate spends.
	first := newClient(t, h)
	_, body := first.do(http.MethodPost, "/session", nil)
	fromID := body["sessionId"].(string)

	_, tb := first.do(http.MethodPost, "/threads", nil)
	threadID := tb["threadId"].(string)
	for i := 0; i < 4; i++ {
		w, _ := first.do(http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
			"content": "from tab one " + string(rune('a'+i)),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	// A distinct fingerprint and address keep the second client from
	// recovering the first session.
	second := newClient(t, h)
	second.fingerprint = "tab-two"
	second.remoteAddr = "203.0.113.9:4444"

	_, body = second.do(http.MethodPost, "/session", nil)
	toID := body["sessionId"].(string)
	require.NotEqual(t, fromID, toID)

	w, out := second.do(http.MethodPost, "/session/transfer", map[string]any{"fromSessionId": fromID})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(4), out["mergedCount"])

	// The first session's scoped keys are gone.
	_, body = first.do(http.MethodGet, "/session", nil)
	require.Equal(t, true, body["isNew"])
}
