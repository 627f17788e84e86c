package api

import (
	"net/http"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/convo"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"

	"github.com/gin-gonic/gin"
)

type cacheMessageRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
	Message  struct {
		Role      string    `json:"role" binding:"required"`
		Content   string    `json:"content" binding:"required"`
		Timestamp time.Time `json:"timestamp"`
		Model     string    `json:"model"`
		MessageID string    `json:"messageId"`
	} `json:"message" binding:"required"`
	SessionID string `json:"sessionId"`
}

// cacheMessage appends one message to a thread's cached window. The
// write is idempotent-by-intent: duplicates are not uniqueness-checked,
// they just append twice, bounded by the window cap.
func (h *Handler) cacheMessage(c *gin.Context) {
	var req cacheMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg := convo.Message{
		Role:      req.Message.Role,
		Content:   req.Message.Content,
		Timestamp: req.Message.Timestamp,
		Model:     req.Message.Model,
		MessageID: req.Message.MessageID,
	}

	if err := h.contexts.AppendMessage(c.Request.Context(), req.ThreadID, msg); err != nil {
		logger.Warn("cache append failed", map[string]any{
			"thread": req.ThreadID,
			"error":  err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache unavailable"})
		return
	}

	if req.SessionID != "" {
		if _, err := h.contexts.UpdateMetadata(c.Request.Context(), req.ThreadID, convo.Metadata{
			SessionID: req.SessionID,
		}); err != nil {
			logger.Warn("cache metadata update failed", map[string]any{
				"thread": req.ThreadID,
				"error":  err.Error(),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"cached": true})
}

// getCachedContext returns the cached window for a thread, or null —
// absence is a valid state, never a 404.
func (h *Handler) getCachedContext(c *gin.Context) {
	threadID := c.Param("threadId")

	conv, err := h.contexts.GetContext(c.Request.Context(), threadID)
	if err != nil {
		logger.Warn("cache read failed", map[string]any{
			"thread": threadID,
			"error":  err.Error(),
		})
		c.JSON(http.StatusOK, gin.H{"context": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"context": conv})
}
