package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/srgchrksv/newscaster/models"
)

// Store persists session state in SQLite. The state column holds the whole
// JSON document; writes are last-write-wins on the session row.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	live map[string]*LiveSession
}

// LiveSession tracks a session with an open websocket stream. User
// interaction messages are forwarded through InteractionPrompt to the
// goroutine replaying the script.
type LiveSession struct {
	InteractionPrompt chan []byte
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Open opens (and if needed creates) the session database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &Store{db: db, live: make(map[string]*LiveSession)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetState loads the state document for a session. Unknown sessions get a
// fresh initial state; the row is created on the first save.
func (s *Store) GetState(sessionID string) (*models.SessionState, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.NewSessionState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return models.UnmarshalSessionState([]byte(raw))
}

// SaveState writes the whole state document back for a session.
func (s *Store) SaveState(sessionID string, state *models.SessionState) error {
	now := models.Timestamp(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, sessionID, string(state.Marshal()), now, now)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}

// ListSessions returns session IDs ordered by most recent activity.
func (s *Store) ListSessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// RegisterLive registers an open stream for a session, replacing any
// previous registration.
func (s *Store) RegisterLive(sessionID string) *LiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := &LiveSession{InteractionPrompt: make(chan []byte, 1)}
	s.live[sessionID] = ls
	return ls
}

// Live returns the live registration for a session, if any.
func (s *Store) Live(sessionID string) (*LiveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[sessionID]
	return ls, ok
}

// UnregisterLive drops the live registration for a session.
func (s *Store) UnregisterLive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, sessionID)
}
