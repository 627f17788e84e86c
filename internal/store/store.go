// Package store is the durable document-store boundary: threads and
// messages are authoritative here, and the cache layers never originate
// their identifiers.
package store

import (
	"context"
	"time"
)

// Thread is a durable conversation container. A thread is either
// anonymous-owned (SessionID set, UserID empty) or user-owned (UserID
// set). Claiming flips ownership but retains SessionID so by-session
// lookups keep working after migration.
type Thread struct {
	ID          string
	Title       string
	UserID      string
	SessionID   string
	IPHash      string
	Model       string
	IsAnonymous bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is one durable conversation turn.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	Model     string
	CreatedAt time.Time
}

// Store is the durable-store contract consumed by the session, retry
// and HTTP layers. Absence is (nil, nil), never an error.
type Store interface {
	CreateThread(ctx context.Context, t *Thread) error
	Thread(ctx context.Context, id string) (*Thread, error)
	ThreadsBySession(ctx context.Context, sessionID string) ([]Thread, error)
	ThreadsByUser(ctx context.Context, userID string) ([]Thread, error)
	ThreadsByIPHash(ctx context.Context, ipHash string) ([]Thread, error)

	// ClaimThreads re-owns every still-anonymous thread of sessionID
	// under userID, clearing IsAnonymous and retaining SessionID. It is
	// idempotent: a second call matches nothing and returns zero.
	ClaimThreads(ctx context.Context, sessionID, userID string) (int, error)

	InsertMessage(ctx context.Context, m *Message) error

	// MessagesByThread returns the thread's messages in chronological
	// order.
	MessagesByThread(ctx context.Context, threadID string) ([]Message, error)

	Close() error
}
