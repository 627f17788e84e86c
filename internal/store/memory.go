package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Store with in-process maps. It backs tests and
// keeps the same ownership semantics as the Postgres driver.
type Memory struct {
	mu       sync.RWMutex
	threads  map[string]Thread
	messages map[string][]Message
}

func NewMemory() *Memory {
	return &Memory{
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
	}
}

func (m *Memory) CreateThread(ctx context.Context, t *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	m.threads[t.ID] = *t
	return nil
}

func (m *Memory) Thread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) collect(match func(Thread) bool) []Thread {
	var out []Thread
	for _, t := range m.threads {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (m *Memory) ThreadsBySession(ctx context.Context, sessionID string) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(t Thread) bool { return t.SessionID == sessionID }), nil
}

func (m *Memory) ThreadsByUser(ctx context.Context, userID string) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(t Thread) bool { return t.UserID == userID }), nil
}

func (m *Memory) ThreadsByIPHash(ctx context.Context, ipHash string) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(t Thread) bool { return t.IPHash == ipHash }), nil
}

func (m *Memory) ClaimThreads(ctx context.Context, sessionID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := 0
	for id, t := range m.threads {
		if t.SessionID != sessionID || t.UserID != "" {
			continue
		}
		t.UserID = userID
		t.IsAnonymous = false
		t.UpdatedAt = time.Now()
		m.threads[id] = t
		claimed++
	}
	return claimed, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], *msg)
	return nil
}

func (m *Memory) MessagesByThread(ctx context.Context, threadID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
