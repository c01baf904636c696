package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids "database is locked" under turn concurrency.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSession(state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", models.ErrPersistenceFailure, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, conversation_state, state_json, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			conversation_state = excluded.conversation_state,
			state_json = excluded.state_json,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		state.SessionID, string(state.ConversationState), string(data), state.ExpiresAt, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("%w: save session %s: %v", models.ErrPersistenceFailure, state.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", state.SessionID, "state", state.ConversationState)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.SessionState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state_json FROM sessions WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("%w: get session %s: %v", models.ErrPersistenceFailure, id, err)
	}
	return decodeSession(id, []byte(data))
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", models.ErrPersistenceFailure, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete messages %s: %v", models.ErrPersistenceFailure, id, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete session %s: %v", models.ErrPersistenceFailure, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", models.ErrPersistenceFailure, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "sessionID", id)
	return nil
}

func (s *SQLiteStore) ListExpiredSessions(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired sessions: %v", models.ErrPersistenceFailure, err)
	}
	return collectIDs(rows)
}

func (s *SQLiteStore) AppendMessage(sessionID string, m models.Message) error {
	if _, err := s.db.Exec(`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, string(m.Role), m.Content, m.Timestamp); err != nil {
		return fmt.Errorf("%w: append message %s: %v", models.ErrPersistenceFailure, sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(sessionID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: get messages %s: %v", models.ErrPersistenceFailure, sessionID, err)
	}
	return collectMessages(rows)
}

func (s *SQLiteStore) SaveTicket(t models.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: marshal ticket: %v", models.ErrPersistenceFailure, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tickets (reference_id, session_id, status, email_sent, ticket_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			status = excluded.status,
			email_sent = excluded.email_sent,
			ticket_json = excluded.ticket_json`,
		t.ReferenceID, t.SessionID, string(t.Status), t.EmailSent, string(data), t.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTicket failed", "error", err, "referenceID", t.ReferenceID)
		return fmt.Errorf("%w: save ticket %s: %v", models.ErrPersistenceFailure, t.ReferenceID, err)
	}
	slog.Debug("SQLiteStore SaveTicket succeeded", "referenceID", t.ReferenceID, "status", t.Status)
	return nil
}

func (s *SQLiteStore) GetTicket(referenceID string) (models.Ticket, error) {
	var data string
	err := s.db.QueryRow(`SELECT ticket_json FROM tickets WHERE reference_id = ?`, referenceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, models.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("%w: get ticket %s: %v", models.ErrPersistenceFailure, referenceID, err)
	}
	return decodeTicket([]byte(data))
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func decodeSession(id string, data []byte) (*models.SessionState, error) {
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Error("store: session JSON unmarshal failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("%w: decode session %s: %v", models.ErrPersistenceFailure, id, err)
	}
	if state.Confidence == nil {
		state.Confidence = make(models.ConfidenceMap)
	}
	return &state, nil
}

func decodeTicket(data []byte) (models.Ticket, error) {
	var t models.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return models.Ticket{}, fmt.Errorf("%w: decode ticket: %v", models.ErrPersistenceFailure, err)
	}
	return t, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %v", models.ErrPersistenceFailure, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", models.ErrPersistenceFailure, err)
		}
		m.Role = models.MessageRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
