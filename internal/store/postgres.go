package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Postgres implements Store over database/sql. NULL user_id maps to the
// empty string so callers never see sql.NullString.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the raw handle for the auth resolver and credential
// service, which query the users/identities/credentials tables
// directly.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

const threadColumns = `
	id, title, COALESCE(user_id::text, ''), session_id, ip_hash,
	model, is_anonymous, created_at, updated_at
`

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	err := row.Scan(
		&t.ID, &t.Title, &t.UserID, &t.SessionID, &t.IPHash,
		&t.Model, &t.IsAnonymous, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) CreateThread(ctx context.Context, t *Thread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	var userID any
	if t.UserID != "" {
		userID = t.UserID
	}

	return p.db.QueryRowContext(ctx, `
		INSERT INTO threads (id, title, user_id, session_id, ip_hash, model, is_anonymous)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`,
		t.ID, t.Title, userID, t.SessionID, t.IPHash, t.Model, t.IsAnonymous,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (p *Postgres) Thread(ctx context.Context, id string) (*Thread, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = $1
	`, id)

	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Postgres) queryThreads(ctx context.Context, where string, arg any) ([]Thread, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE `+where+`
		ORDER BY updated_at DESC
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, serr := scanThread(rows)
		if serr != nil {
			return nil, serr
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

func (p *Postgres) ThreadsBySession(ctx context.Context, sessionID string) ([]Thread, error) {
	return p.queryThreads(ctx, "session_id = $1", sessionID)
}

func (p *Postgres) ThreadsByUser(ctx context.Context, userID string) ([]Thread, error) {
	return p.queryThreads(ctx, "user_id = $1", userID)
}

func (p *Postgres) ThreadsByIPHash(ctx context.Context, ipHash string) ([]Thread, error) {
	return p.queryThreads(ctx, "ip_hash = $1", ipHash)
}

// ClaimThreads only matches threads that are still anonymous, so a
// repeated claim updates zero rows. session_id is deliberately kept.
func (p *Postgres) ClaimThreads(ctx context.Context, sessionID, userID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE threads
		SET user_id = $2,
		    is_anonymous = false,
		    updated_at = NOW()
		WHERE session_id = $1
		  AND user_id IS NULL
	`, sessionID, userID)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	return p.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, model)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`,
		m.ID, m.ThreadID, m.Role, m.Content, m.Model,
	).Scan(&m.CreatedAt)
}

func (p *Postgres) MessagesByThread(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, model, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if serr := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Model, &m.CreatedAt); serr != nil {
			return nil, serr
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
