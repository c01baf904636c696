package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/store"
	"github.com/BTreeMap/IntakeDesk/internal/util"
)

// DefaultSessionTTL is the inactivity window after which a session expires.
const DefaultSessionTTL = 30 * time.Minute

// SessionManager loads and saves session aggregates with lazy TTL expiry.
type SessionManager struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager creates a SessionManager. A non-positive ttl uses DefaultSessionTTL.
func NewSessionManager(st store.Store, ttl time.Duration, now func() time.Time) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionManager{store: st, ttl: ttl, now: now}
}

// Create starts a new session. An empty id gets a generated one; an invalid id is rejected.
func (m *SessionManager) Create(id string, user models.UserContext) (*models.SessionState, error) {
	if id == "" {
		id = util.NewSessionID()
	} else if !util.IsValidSessionID(id) {
		return nil, fmt.Errorf("%w: session id %q", models.ErrInvalidInput, id)
	}
	s := models.NewSessionState(id, user, m.now(), m.ttl)
	if err := m.store.SaveSession(s); err != nil {
		return nil, err
	}
	slog.Info("SessionManager.Create: session created", "sessionID", id, "channel", user.Channel)
	return s, nil
}

// Load returns the session or models.ErrSessionNotFound. An expired session is deleted on
// access and reported as not found.
func (m *SessionManager) Load(id string) (*models.SessionState, error) {
	s, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s.IsExpired(m.now()) {
		slog.Info("SessionManager.Load: session expired", "sessionID", id, "expiresAt", s.ExpiresAt)
		if err := m.store.DeleteSession(id); err != nil {
			slog.Warn("SessionManager.Load: failed to delete expired session", "sessionID", id, "error", err)
		}
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

// LoadOrCreate loads id, creating it when absent or expired.
func (m *SessionManager) LoadOrCreate(id string, user models.UserContext) (*models.SessionState, bool, error) {
	s, err := m.Load(id)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, models.ErrSessionNotFound) {
		return nil, false, err
	}
	s, err = m.Create(id, user)
	return s, err == nil, err
}

// Touch extends the expiry of s from now.
func (m *SessionManager) Touch(s *models.SessionState) {
	now := m.now()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
}

// Save persists the whole aggregate.
func (m *SessionManager) Save(s *models.SessionState) error {
	return m.store.SaveSession(s)
}

// Delete removes a session explicitly.
func (m *SessionManager) Delete(id string) error {
	if _, err := m.store.GetSession(id); err != nil {
		return err
	}
	return m.store.DeleteSession(id)
}

// SweepLock serializes the sweep of one session with its turns. The returned func releases it.
type SweepLock func(id string) (func(), error)

// Sweep deletes every expired session and returns how many were removed. Each session is
// re-checked under lock, so one touched after listing survives.
func (m *SessionManager) Sweep(lock SweepLock) (int, error) {
	ids, err := m.store.ListExpiredSessions(m.now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		release, err := lock(id)
		if err != nil {
			return removed, err
		}
		// Load deletes the session when it is still expired.
		if _, err := m.Load(id); errors.Is(err, models.ErrSessionNotFound) {
			removed++
		}
		release()
	}
	if removed > 0 {
		slog.Info("SessionManager.Sweep: removed expired sessions", "count", removed)
	}
	return removed, nil
}

// Now returns the manager clock.
func (m *SessionManager) Now() time.Time {
	return m.now()
}
