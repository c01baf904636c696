// Package store provides storage backends for IntakeDesk.
//
// It persists session aggregates, the append-only message log, submitted tickets, the
// notification outbox and the inbound de-duplication table. SQLite and PostgreSQL backends are
// provided, plus an in-memory store for tests and an LRU read-through cache.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Store is the persistence collaborator of the orchestration core.
type Store interface {
	// SaveSession upserts the whole session aggregate.
	SaveSession(s *models.SessionState) error
	// GetSession loads a session. It returns models.ErrSessionNotFound when absent.
	GetSession(id string) (*models.SessionState, error)
	// DeleteSession removes the session and its message log.
	DeleteSession(id string) error
	// ListExpiredSessions returns ids of sessions whose expiry is before now.
	ListExpiredSessions(now time.Time) ([]string, error)

	// AppendMessage adds one entry to the append-only log of a session.
	AppendMessage(sessionID string, m models.Message) error
	// GetMessages returns the log of a session in append order.
	GetMessages(sessionID string) ([]models.Message, error)

	// SaveTicket upserts a submitted ticket keyed by its reference id.
	SaveTicket(t models.Ticket) error
	// GetTicket loads a ticket by reference id.
	GetTicket(referenceID string) (models.Ticket, error)

	OutboxRepo
	DedupRepo

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" or "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend matching the DSN.
func New(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
