package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSession(state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", models.ErrPersistenceFailure, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, conversation_state, state_json, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			conversation_state = EXCLUDED.conversation_state,
			state_json = EXCLUDED.state_json,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		state.SessionID, string(state.ConversationState), data, state.ExpiresAt, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("%w: save session %s: %v", models.ErrPersistenceFailure, state.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", state.SessionID, "state", state.ConversationState)
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.SessionState, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT state_json FROM sessions WHERE session_id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("%w: get session %s: %v", models.ErrPersistenceFailure, id, err)
	}
	return decodeSession(id, data)
}

func (s *PostgresStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", models.ErrPersistenceFailure, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete messages %s: %v", models.ErrPersistenceFailure, id, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete session %s: %v", models.ErrPersistenceFailure, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", models.ErrPersistenceFailure, err)
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", id)
	return nil
}

func (s *PostgresStore) ListExpiredSessions(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired sessions: %v", models.ErrPersistenceFailure, err)
	}
	return collectIDs(rows)
}

func (s *PostgresStore) AppendMessage(sessionID string, m models.Message) error {
	if _, err := s.db.Exec(`INSERT INTO messages (session_id, role, content, timestamp) VALUES ($1, $2, $3, $4)`,
		sessionID, string(m.Role), m.Content, m.Timestamp); err != nil {
		return fmt.Errorf("%w: append message %s: %v", models.ErrPersistenceFailure, sessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(sessionID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT role, content, timestamp FROM messages WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: get messages %s: %v", models.ErrPersistenceFailure, sessionID, err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) SaveTicket(t models.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: marshal ticket: %v", models.ErrPersistenceFailure, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tickets (reference_id, session_id, status, email_sent, ticket_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reference_id) DO UPDATE SET
			status = EXCLUDED.status,
			email_sent = EXCLUDED.email_sent,
			ticket_json = EXCLUDED.ticket_json`,
		t.ReferenceID, t.SessionID, string(t.Status), t.EmailSent, data, t.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTicket failed", "error", err, "referenceID", t.ReferenceID)
		return fmt.Errorf("%w: save ticket %s: %v", models.ErrPersistenceFailure, t.ReferenceID, err)
	}
	slog.Debug("PostgresStore SaveTicket succeeded", "referenceID", t.ReferenceID, "status", t.Status)
	return nil
}

func (s *PostgresStore) GetTicket(referenceID string) (models.Ticket, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT ticket_json FROM tickets WHERE reference_id = $1`, referenceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, models.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("%w: get ticket %s: %v", models.ErrPersistenceFailure, referenceID, err)
	}
	return decodeTicket(data)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
