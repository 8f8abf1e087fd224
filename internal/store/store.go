package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a thread or message id is unknown.
	ErrNotFound = errors.New("not found")
)

// Roles a persisted message may carry. Tool traffic lives in the ephemeral
// streaming session; only the final user/assistant exchange is durable.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread is a single persisted conversation owned by one user.
type Thread struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	Title            string     `json:"title"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastAIResponseAt *time.Time `json:"last_ai_response_at,omitempty"`
}

// Message is one durable conversation entry. Persisted messages are the
// single source of truth for history.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable thread/message repository backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open initialises the database at path, creating the schema when absent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// WAL keeps concurrent readers cheap while a turn is appending.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_ai_response_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK(role IN ('user','assistant')),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateThread inserts a new thread owned by owner.
func (s *Store) CreateThread(ctx context.Context, id, owner, title string) (Thread, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, owner, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, owner, title, now, now)
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return Thread{ID: id, Owner: owner, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetThread loads one thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, title, created_at, updated_at, last_ai_response_at FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

// ListThreads returns the owner's threads, most recently updated first.
func (s *Store) ListThreads(ctx context.Context, owner string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, title, created_at, updated_at, last_ai_response_at
		 FROM threads WHERE owner = ? ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// RenameThread patches the title.
func (s *Store) RenameThread(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	return requireRow(res)
}

// TouchThread bumps updated_at, and last_ai_response_at when aiResponded.
func (s *Store) TouchThread(ctx context.Context, id string, aiResponded bool) error {
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if aiResponded {
		res, err = s.db.ExecContext(ctx,
			`UPDATE threads SET updated_at = ?, last_ai_response_at = ? WHERE id = ?`, now, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE threads SET updated_at = ? WHERE id = ?`, now, id)
	}
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return requireRow(res)
}

// DeleteThread removes a thread; messages cascade.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return requireRow(res)
}

// AppendMessage persists one message. The caller supplies the id: the
// streaming buffer and the durable row must share it so the merged view can
// deduplicate by id once the row lands.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return Message{}, fmt.Errorf("invalid role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if err := s.TouchThread(ctx, msg.ThreadID, msg.Role == RoleAssistant); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ListMessages returns the thread history in persisted order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM messages WHERE thread_id = ? ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageContent applies an explicit content edit.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res)
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (Thread, error) {
	var (
		t      Thread
		lastAI sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Owner, &t.Title, &t.CreatedAt, &t.UpdatedAt, &lastAI)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("scan thread: %w", err)
	}
	if lastAI.Valid {
		ts := lastAI.Time
		t.LastAIResponseAt = &ts
	}
	return t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
