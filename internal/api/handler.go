// Package api exposes the session, conversation-cache and chat-turn
// endpoints. Handlers stay thin: resolution, limits and persistence
// decisions all live in the session, ratelimit, convo and retry
// packages.
package api

import (
	"net/http"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/convo"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/middleware"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
	"github.com/kelvinguchu/t3clone-sub002/internal/retry"
	"github.com/kelvinguchu/t3clone-sub002/internal/session"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	contexts *convo.Cache
	retry    *retry.Detector
	durable  store.Store

	hashSalt  string
	userLimit int
}

func NewHandler(
	sessions *session.Manager,
	limiter *ratelimit.Limiter,
	contexts *convo.Cache,
	detector *retry.Detector,
	durable store.Store,
	hashSalt string,
	userLimit int,
) *Handler {
	if userLimit <= 0 {
		userLimit = 100
	}
	return &Handler{
		sessions:  sessions,
		limiter:   limiter,
		contexts:  contexts,
		retry:     detector,
		durable:   durable,
		hashSalt:  hashSalt,
		userLimit: userLimit,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	optional := middleware.GinOptionalAuth(auth)
	required := middleware.GinRequireAuth(auth)

	r.POST("/session", h.createSession)
	r.GET("/session", h.getSession)
	r.DELETE("/session", h.deleteSession)
	r.POST("/session/transfer", h.transferSession)
	r.POST("/session/claim", required, h.claimSession)

	r.POST("/cache/message", h.cacheMessage)
	r.GET("/cache/context/:threadId", h.getCachedContext)

	r.POST("/threads", optional, h.createThread)
	r.GET("/threads", optional, h.listThreads)
	r.GET("/threads/:threadId/messages", optional, h.listMessages)
	r.POST("/threads/:threadId/messages", optional, h.postMessage)
}

// sessionResponse is the wire shape for every session endpoint.
type sessionResponse struct {
	SessionID         string    `json:"sessionId"`
	MessageCount      int       `json:"messageCount"`
	RemainingMessages int       `json:"remainingMessages"`
	ResetTime         time.Time `json:"resetTime"`
	IsNew             bool      `json:"isNew,omitempty"`
}

func (h *Handler) sessionJSON(s *session.Session, isNew bool) sessionResponse {
	return sessionResponse{
		SessionID:         s.SessionID,
		MessageCount:      s.MessageCount,
		RemainingMessages: s.Remaining(),
		ResetTime:         s.ResetTime(h.sessions.WindowSeconds()),
		IsNew:             isNew,
	}
}

// clientSessionID reads the caller's session id: explicit body value,
// query parameter, then the anonymous cookie.
func clientSessionID(c *gin.Context, bodyID string) string {
	if bodyID != "" {
		return bodyID
	}
	if q := c.Query("sessionId"); q != "" {
		return q
	}
	if cookie, err := c.Request.Cookie(session.AnonCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) hashes(c *gin.Context) (fingerprintHash, ipHash string) {
	fingerprintHash = session.HashIdentifier(c.GetHeader("X-Client-Fingerprint"), h.hashSalt)
	ipHash = session.HashIdentifier(c.ClientIP(), h.hashSalt)
	return
}

// resolveSession runs the full resolution (id, recovery, mint) and
// refreshes the rolling anonymous cookie.
func (h *Handler) resolveSession(c *gin.Context, bodyID string) (*session.Session, bool, error) {
	fingerprintHash, ipHash := h.hashes(c)

	s, created, err := h.sessions.Resolve(c.Request.Context(), clientSessionID(c, bodyID), fingerprintHash, ipHash)
	if err != nil {
		return nil, false, err
	}

	session.SetAnonCookie(c.Writer, s.SessionID, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return s, created, nil
}

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req)

	s, created, err := h.resolveSession(c, req.SessionID)
	if err != nil {
		logger.Error("session resolution failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}

	c.JSON(http.StatusOK, h.sessionJSON(s, created))
}

// getSession reads the caller's session. An expired or unknown id is
// silently recreated, never surfaced as an error.
func (h *Handler) getSession(c *gin.Context) {
	s, created, err := h.resolveSession(c, "")
	if err != nil {
		logger.Error("session read failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}

	c.JSON(http.StatusOK, h.sessionJSON(s, created))
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID := clientSessionID(c, "")
	if sessionID == "" {
		c.JSON(http.StatusOK, gin.H{"deleted": false})
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		logger.Error("session delete failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	session.ClearAnonCookie(c.Writer, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type transferRequest struct {
	FromSessionID string `json:"fromSessionId"`
}

// transferSession reconciles a duplicate session (second tab, retried
// claim) into the caller's current one.
func (h *Handler) transferSession(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FromSessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fromSessionId required"})
		return
	}

	s, _, err := h.resolveSession(c, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}

	transferred, err := h.sessions.TransferSessionData(c.Request.Context(), req.FromSessionID, s.SessionID)
	if err != nil {
		logger.Warn("session transfer failed", map[string]any{"error": err.Error()})
	}

	merged, err := h.sessions.MergeRateLimitData(
		c.Request.Context(),
		req.FromSessionID,
		s.SessionID,
		h.sessions.WindowSeconds(),
		h.sessions.MessageLimit(),
	)
	if err != nil {
		logger.Warn("rate merge failed", map[string]any{"error": err.Error()})
	}

	c.JSON(http.StatusOK, gin.H{
		"transferredKeys": transferred,
		"mergedCount":     merged,
	})
}

type claimRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) claimSession(c *gin.Context) {
	userID, _ := middleware.UserIDFromContext(c.Request.Context())

	var req claimRequest
	_ = c.ShouldBindJSON(&req)

	_, ipHash := h.hashes(c)

	result, err := h.sessions.Claim(c.Request.Context(), clientSessionID(c, req.SessionID), ipHash, userID)
	if err != nil {
		logger.Error("claim failed", map[string]any{"user": userID, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
		return
	}

	session.ClearAnonCookie(c.Writer, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, result)
}
