// Package convo caches a bounded rolling window of recent messages per
// thread so LLM context assembly does not have to re-read the durable
// store on every turn. The cache is a derived, disposable view: losing
// it costs latency, never data.
package convo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
)

const (
	// MaxWindowMessages caps the rolling window; older messages are
	// dropped from the front.
	MaxWindowMessages = 10

	// DefaultTTL bounds how long an idle context survives.
	DefaultTTL = 2 * time.Hour

	keyPrefix = "conversation:"
)

// Message is one conversation turn inside the cached window.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
}

// Context is the cached per-thread window plus routing metadata.
type Context struct {
	ThreadID     string    `json:"threadId"`
	Model        string    `json:"model,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	LastUpdated  time.Time `json:"lastUpdated"`
	MessageCount int       `json:"messageCount"`
	Messages     []Message `json:"messages"`
}

// Metadata carries optional context fields for merging; empty fields
// are left untouched.
type Metadata struct {
	Model     string
	UserID    string
	SessionID string
}

type Cache struct {
	cache *cache.Cache
	ttl   time.Duration
}

func New(c *cache.Cache) *Cache {
	return &Cache{cache: c, ttl: DefaultTTL}
}

func contextKey(threadID string) string {
	return keyPrefix + threadID
}

// truncateWindow keeps the most recent MaxWindowMessages entries,
// dropping from the front.
func truncateWindow(messages []Message) []Message {
	if len(messages) > MaxWindowMessages {
		messages = messages[len(messages)-MaxWindowMessages:]
	}
	return messages
}

// AppendMessage pushes one message onto the thread's window, creating
// the context if none exists. Every mutation refreshes the TTL and
// LastUpdated. Duplicate appends are tolerated; the cap bounds them.
func (c *Cache) AppendMessage(ctx context.Context, threadID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	conv := &Context{}
	if _, err := c.cache.Get(ctx, contextKey(threadID), conv); err != nil {
		return err
	}
	conv.ThreadID = threadID

	conv.Messages = truncateWindow(append(conv.Messages, msg))
	conv.MessageCount = len(conv.Messages)
	conv.LastUpdated = time.Now()

	return c.cache.SetWithTTL(ctx, contextKey(threadID), conv, c.ttl)
}

// GetContext returns the cached context, or nil when the thread has no
// (parseable) entry. Absence is not an error.
func (c *Cache) GetContext(ctx context.Context, threadID string) (*Context, error) {
	var conv Context
	found, err := c.cache.Get(ctx, contextKey(threadID), &conv)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &conv, nil
}

// GetRecentMessages returns up to limit of the newest cached messages
// in chronological order. A missing context yields an empty slice.
func (c *Cache) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	conv, err := c.GetContext(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// UpdateMetadata merges the given fields into an existing context
// without touching its message window. Returns false when no context
// exists: metadata alone never originates a context.
func (c *Cache) UpdateMetadata(ctx context.Context, threadID string, meta Metadata) (bool, error) {
	conv, err := c.GetContext(ctx, threadID)
	if err != nil {
		return false, err
	}
	if conv == nil {
		return false, nil
	}

	if meta.Model != "" {
		conv.Model = meta.Model
	}
	if meta.UserID != "" {
		conv.UserID = meta.UserID
	}
	if meta.SessionID != "" {
		conv.SessionID = meta.SessionID
	}
	conv.LastUpdated = time.Now()

	if err := c.cache.SetWithTTL(ctx, contextKey(threadID), conv, c.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// GetMultipleContexts reads several thread contexts in one concurrent
// batch. On batch failure it falls back to sequential per-key reads so
// a single bad entry cannot sink the whole lookup. Threads without a
// context are omitted from the result.
func (c *Cache) GetMultipleContexts(ctx context.Context, threadIDs []string) (map[string]*Context, error) {
	keys := make([]string, len(threadIDs))
	for i, id := range threadIDs {
		keys[i] = contextKey(id)
	}

	out := make(map[string]*Context, len(threadIDs))

	raw, err := c.cache.MGet(ctx, keys)
	if err != nil {
		logger.Warn("batched context read failed, falling back to sequential", map[string]any{
			"threads": len(threadIDs),
			"error":   err.Error(),
		})
		for _, id := range threadIDs {
			conv, gerr := c.GetContext(ctx, id)
			if gerr != nil || conv == nil {
				continue
			}
			out[id] = conv
		}
		return out, nil
	}

	for i, id := range threadIDs {
		val, ok := raw[keys[i]]
		if !ok {
			continue
		}
		var conv Context
		if uerr := json.Unmarshal([]byte(val), &conv); uerr != nil {
			continue
		}
		out[id] = &conv
	}
	return out, nil
}

// CleanupOldContexts scans the full context key space and deletes
// entries older than the cutoff, plus any entry that no longer parses
// (corrupt entries are reclaimed rather than left to rot). Maintenance
// only; never call this on a request path.
func (c *Cache) CleanupOldContexts(ctx context.Context, olderThan time.Duration) (int, error) {
	keys, err := c.cache.Store().Keys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for _, key := range keys {
		var conv Context
		found, gerr := c.cache.Get(ctx, key, &conv)
		if gerr != nil {
			continue
		}

		// Get reports corrupt entries as misses while the raw key still
		// exists; both corrupt and stale entries are deleted.
		if found && conv.LastUpdated.After(cutoff) {
			continue
		}
		if derr := c.cache.Delete(ctx, key); derr == nil {
			deleted++
		}
	}
	return deleted, nil
}
