// Package retry decides whether an inbound user turn is new content or
// a client-side resend of an already-persisted message. The check is
// content-equality, not id-equality: client-generated temporary ids
// differ from the durable store's ids and cannot correlate the two.
package retry

import (
	"context"

	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"
)

type Detector struct {
	store store.Store
}

func New(s store.Store) *Detector {
	return &Detector{store: s}
}

// ShouldSaveUserMessage reports whether the inbound user message needs
// persisting. It compares against the most recent persisted user-role
// message; a byte-identical match classifies the turn as a retry. A
// missing thread id, an empty history, or a store failure all resolve
// to save: a duplicate is recoverable, a dropped message is not.
func (d *Detector) ShouldSaveUserMessage(ctx context.Context, threadID, content string) bool {
	if threadID == "" {
		return true
	}

	history, err := d.store.MessagesByThread(ctx, threadID)
	if err != nil {
		logger.Warn("retry detection failed to read history, saving anyway", map[string]any{
			"thread": threadID,
			"error":  err.Error(),
		})
		return true
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "user" {
			continue
		}
		return history[i].Content != content
	}

	// No prior user message: genuinely new.
	return true
}
