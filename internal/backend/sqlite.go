package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // "sqlite" (pure Go)
)

// SQL drivers accepted by NewSQLiteStore.
const (
	DriverPureGo = "sqlite"
	DriverCgo    = "sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// SQLiteStore persists sessions in a SQLite database.
// Timestamps are stored as Unix nanoseconds so they sort numerically.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	driver string
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates) the database at path with driver
// DriverPureGo or DriverCgo. An empty driver selects DriverPureGo.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverPureGo
	}
	if driver != DriverPureGo && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	log := logging.Get(logging.CategoryBackend)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("%s failed: %v", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Backend("sqlite store ready at %s (driver %s)", path, driver)
	return &SQLiteStore{
		db:     db,
		path:   path,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID, title string) (types.SessionDetail, error) {
	now := s.now()
	d := types.SessionDetail{
		Session: types.Session{
			ID:        uuid.NewString(),
			Title:     orDefaultTitle(title),
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID:   userID,
		Messages: []types.HistoryEntry{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return types.SessionDetail{}, fmt.Errorf("failed to create session: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (types.SessionDetail, error) {
	var (
		d                types.SessionDetail
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&d.ID, &d.UserID, &d.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SessionDetail{}, ErrNotFound
	}
	if err != nil {
		return types.SessionDetail{}, fmt.Errorf("failed to load session: %w", err)
	}
	d.CreatedAt = fromNanos(created)
	d.UpdatedAt = fromNanos(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return types.SessionDetail{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	d.Messages = []types.HistoryEntry{}
	for rows.Next() {
		var (
			h  types.HistoryEntry
			ts int64
		)
		if err := rows.Scan(&h.Role, &h.Content, &ts); err != nil {
			return types.SessionDetail{}, fmt.Errorf("failed to scan message: %w", err)
		}
		h.Timestamp = fromNanos(ts)
		d.Messages = append(d.Messages, h)
	}
	if err := rows.Err(); err != nil {
		return types.SessionDetail{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []types.Session{}
	for rows.Next() {
		var (
			sess             types.Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = fromNanos(created)
		sess.UpdatedAt = fromNanos(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg types.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, msg.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}
	if count == 1 && msg.Role == types.SenderUser {
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
			TitleFromMessage(msg.Content), now.UnixNano(), sessionID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now.UnixNano(), sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
