package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/util"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory. It stores and returns clones so callers
// can never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
	messages map[string][]models.Message
	tickets  map[string]models.Ticket
	outbox   map[string]*OutboxMessage
	dedup    map[string]*DedupRecord
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.SessionState),
		messages: make(map[string][]models.Message),
		tickets:  make(map[string]models.Ticket),
		outbox:   make(map[string]*OutboxMessage),
		dedup:    make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) SaveSession(state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) ListExpiredSessions(now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, state := range s.sessions {
		if state.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) AppendMessage(sessionID string, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], m)
	return nil
}

func (s *InMemoryStore) GetMessages(sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message{}, s.messages[sessionID]...), nil
}

func (s *InMemoryStore) SaveTicket(t models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Intake = t.Intake.Clone()
	s.tickets[t.ReferenceID] = t
	return nil
}

func (s *InMemoryStore) GetTicket(referenceID string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[referenceID]
	if !ok {
		return models.Ticket{}, models.ErrTicketNotFound
	}
	t.Intake = t.Intake.Clone()
	return t, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(sessionID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && !isTerminalOutbox(m.Status) {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateRandomID("outbox_", 32)
	s.outbox[id] = &OutboxMessage{
		ID:          id,
		SessionID:   sessionID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) AbandonOutboxMessage(id string, errMsg string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		fn(m)
		m.UpdatedAt = time.Now()
	}
	return nil
}

func isTerminalOutbox(status OutboxStatus) bool {
	return status == OutboxStatusSent || status == OutboxStatusCanceled || status == OutboxStatusFailed
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, SessionID: sessionID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) ForgetInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok && r.ProcessedAt == nil {
		delete(s.dedup, messageID)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
