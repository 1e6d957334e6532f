// Package persistence provides the SQLite-backed durable store for sessions
// and messages, grounded on the synchronous query shapes of the original
// sqlx-based session store but adapted to Go's database/sql.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arjunmehta/relay/pkg/providers"
)

// SessionInfo summarizes a persisted session for listing endpoints.
type SessionInfo struct {
	Key          string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the SQLite-backed session/message store.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath. An empty dbPath opens
// a private in-memory database, used by tests and no-persistence setups.
func Open(dbPath string) (*Store, error) {
	dsn := ":memory:"
	if dbPath != "" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create session store directory: %w", err)
			}
		}
		dsn = dbPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if dbPath != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate session store schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_key) REFERENCES sessions(key)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_key ON messages(session_key, id);
	`)
	return err
}

// EnsureSession creates the session row if it doesn't already exist.
func (s *Store) EnsureSession(key string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (key) VALUES (?) ON CONFLICT(key) DO NOTHING`,
		key,
	)
	return err
}

// AddMessage appends msg to the session's history, creating the session row
// if needed, and touches the session's updated_at.
func (s *Store) AddMessage(key string, msg providers.Message) error {
	if err := s.EnsureSession(key); err != nil {
		return err
	}

	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var toolCallID sql.NullString
	if msg.ToolCallID != "" {
		toolCallID = sql.NullString{String: msg.ToolCallID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (session_key, role, content, tool_calls, tool_call_id) VALUES (?, ?, ?, ?, ?)`,
		key, msg.Role, msg.Content, toolCallsJSON, toolCallID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.Exec(`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE key = ?`, key)
	return err
}

// GetHistory returns every message stored for key in insertion order.
func (s *Store) GetHistory(key string) ([]providers.Message, error) {
	rows, err := s.db.Query(
		`SELECT role, content, tool_calls, tool_call_id FROM messages WHERE session_key = ? ORDER BY id ASC`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []providers.Message
	for rows.Next() {
		var msg providers.Message
		var toolCallsJSON, toolCallID sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCallsJSON, &toolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

// GetSummary returns the stored rolling summary for key, or "" if unset.
func (s *Store) GetSummary(key string) (string, error) {
	var summary string
	err := s.db.QueryRow(`SELECT summary FROM sessions WHERE key = ?`, key).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return summary, err
}

// SetSummary creates the session row if needed and stores summary.
func (s *Store) SetSummary(key, summary string) error {
	if err := s.EnsureSession(key); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE sessions SET summary = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?`,
		summary, key,
	)
	return err
}

// TrimHistory keeps only the keep most recent messages for key, deleting
// the rest.
func (s *Store) TrimHistory(key string, keep int) error {
	if keep <= 0 {
		_, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, key)
		return err
	}
	_, err := s.db.Exec(
		`DELETE FROM messages WHERE session_key = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_key = ? ORDER BY id DESC LIMIT ?
		)`,
		key, key, keep,
	)
	return err
}

// ListSessions returns every known session with its message count.
func (s *Store) ListSessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.key, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_key = s.key
		GROUP BY s.key
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdAt, updatedAt string
		if err := rows.Scan(&info.Key, &createdAt, &updatedAt, &info.MessageCount); err != nil {
			return nil, err
		}
		info.CreatedAt = parseTime(createdAt)
		info.UpdatedAt = parseTime(updatedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

var timeFormats = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseTime(s string) time.Time {
	for _, f := range timeFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
