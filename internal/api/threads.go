package api

import (
	"errors"
	"net/http"

	"github.com/kelvinguchu/t3clone-sub002/internal/convo"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/middleware"
	"github.com/kelvinguchu/t3clone-sub002/internal/session"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	"github.com/gin-gonic/gin"
)

type createThreadRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

func (h *Handler) createThread(c *gin.Context) {
	var req createThreadRequest
	_ = c.ShouldBindJSON(&req)

	thread := &store.Thread{
		Title: req.Title,
		Model: req.Model,
	}

	if userID, ok := middleware.UserIDFromContext(c.Request.Context()); ok {
		thread.UserID = userID
	} else {
		s, _, err := h.resolveSession(c, "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		_, ipHash := h.hashes(c)
		thread.SessionID = s.SessionID
		thread.IPHash = ipHash
		thread.IsAnonymous = true
	}

	if err := h.durable.CreateThread(c.Request.Context(), thread); err != nil {
		logger.Error("thread create failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread create failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"threadId":    thread.ID,
		"isAnonymous": thread.IsAnonymous,
	})
}

func (h *Handler) listThreads(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		threads []store.Thread
		err     error
	)
	if userID, ok := middleware.UserIDFromContext(ctx); ok {
		threads, err = h.durable.ThreadsByUser(ctx, userID)
	} else if sessionID := clientSessionID(c, ""); sessionID != "" {
		threads, err = h.durable.ThreadsBySession(ctx, sessionID)
	}

	if err != nil {
		logger.Error("thread list failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread list failed"})
		return
	}

	out := make([]gin.H, 0, len(threads))
	for _, t := range threads {
		out = append(out, gin.H{
			"threadId":    t.ID,
			"title":       t.Title,
			"model":       t.Model,
			"isAnonymous": t.IsAnonymous,
			"updatedAt":   t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"threads": out})
}

// authorizeThread enforces ownership: the thread must belong to the
// authenticated user or to the caller's anonymous session. A mismatch
// is an expected race during sign-in transitions, so the denial carries
// a recovery hint rather than acting as a hard failure.
func (h *Handler) authorizeThread(c *gin.Context, thread *store.Thread) (*session.Session, bool) {
	if userID, ok := middleware.UserIDFromContext(c.Request.Context()); ok {
		if thread.UserID == userID {
			return nil, true
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error": "thread not owned by user",
			"code":  "ownership_mismatch",
		})
		return nil, false
	}

	s, _, err := h.resolveSession(c, "")
	if err != nil {
		// Fail closed: an authorization check cannot proceed without
		// its inputs.
		c.JSON(http.StatusForbidden, gin.H{
			"error": "session unavailable",
			"code":  "ownership_mismatch",
		})
		return nil, false
	}

	if thread.SessionID != s.SessionID {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "thread belongs to another session",
			"code":  "session_mismatch",
		})
		return nil, false
	}
	return s, true
}

func (h *Handler) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("threadId")

	thread, err := h.durable.Thread(ctx, threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if thread == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	if _, ok := h.authorizeThread(c, thread); !ok {
		return
	}

	messages, err := h.durable.MessagesByThread(ctx, threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		out = append(out, gin.H{
			"messageId": m.ID,
			"role":      m.Role,
			"content":   m.Content,
			"model":     m.Model,
			"createdAt": m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Model   string `json:"model"`
}

// postMessage handles one inbound chat turn: ownership, rate limit,
// retry detection, durable persist, context-cache append — in that
// order. The retry read completes before the save decision.
func (h *Handler) postMessage(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("threadId")

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	thread, err := h.durable.Thread(ctx, threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if thread == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	s, ok := h.authorizeThread(c, thread)
	if !ok {
		return
	}

	userID, authed := middleware.UserIDFromContext(ctx)
	if authed {
		if !h.checkUserLimit(c, userID) {
			return
		}
	} else {
		if err := h.sessions.IncrementMessageCount(ctx, s); err != nil {
			if errors.Is(err, session.ErrLimitExceeded) {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":             "message limit exceeded",
					"remainingMessages": 0,
					"resetTime":         s.ResetTime(h.sessions.WindowSeconds()),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit unavailable"})
			return
		}
	}

	saved := false
	messageID := ""
	if h.retry.ShouldSaveUserMessage(ctx, threadID, req.Content) {
		msg := &store.Message{
			ThreadID: threadID,
			Role:     "user",
			Content:  req.Content,
			Model:    req.Model,
		}
		if err := h.durable.InsertMessage(ctx, msg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
			return
		}
		saved = true
		messageID = msg.ID
	}

	// Cache append is advisory; its failure costs a cache rebuild, not
	// the request.
	if err := h.contexts.AppendMessage(ctx, threadID, convo.Message{
		Role:      "user",
		Content:   req.Content,
		Model:     req.Model,
		MessageID: messageID,
	}); err != nil {
		logger.Warn("context cache append failed", map[string]any{
			"thread": threadID,
			"error":  err.Error(),
		})
	}

	resp := gin.H{
		"saved":     saved,
		"messageId": messageID,
	}
	if s != nil {
		resp["remainingMessages"] = s.Remaining()
		resp["resetTime"] = s.ResetTime(h.sessions.WindowSeconds())
	}
	c.JSON(http.StatusOK, resp)
}

// checkUserLimit applies the authenticated fixed-window limit. Signing
// in moves the caller onto their own identity's budget.
func (h *Handler) checkUserLimit(c *gin.Context, userID string) bool {
	ctx := c.Request.Context()
	identity := "user:" + userID
	windowSeconds := h.sessions.WindowSeconds()

	allowed, err := h.limiter.CheckLimit(ctx, identity, windowSeconds, h.userLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit unavailable"})
		return false
	}
	if !allowed {
		remaining, _ := h.limiter.RemainingRequests(ctx, identity, windowSeconds, h.userLimit)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             "message limit exceeded",
			"remainingMessages": remaining,
		})
		return false
	}
	return true
}
