// Package notify hands finalized tickets to the helpdesk.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/store"
)

// ErrNotifierUnavailable is returned when a ticket could not be delivered.
var ErrNotifierUnavailable = errors.New("notifier unavailable")

// Receipt is the notifier's acknowledgment of a ticket.
type Receipt struct {
	ReferenceID string `json:"referenceId"`
	EmailSent   bool   `json:"emailSent"`
}

// Notifier performs the actual ticket creation and helpdesk notification.
type Notifier interface {
	Submit(ctx context.Context, t models.Ticket) (Receipt, error)
}

// FormatTicket renders the helpdesk message body for t.
func FormatTicket(t models.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New IT ticket %s\n", t.ReferenceID)
	if t.User.Name != "" || t.User.Email != "" {
		fmt.Fprintf(&b, "Reported by: %s %s\n", t.User.Name, t.User.Email)
	}
	if t.User.Channel != "" {
		fmt.Fprintf(&b, "Channel: %s\n", t.User.Channel)
	}
	b.WriteString(t.Summary)
	return strings.TrimSpace(b.String())
}

// LogNotifier only logs tickets. It is used when no delivery channel is configured.
type LogNotifier struct{}

// Submit implements Notifier.
func (LogNotifier) Submit(_ context.Context, t models.Ticket) (Receipt, error) {
	slog.Info("LogNotifier.Submit: ticket created", "referenceID", t.ReferenceID, "sessionID", t.SessionID, "category", categoryOf(t))
	return Receipt{ReferenceID: t.ReferenceID, EmailSent: false}, nil
}

func categoryOf(t models.Ticket) string {
	if t.Intake.Category == nil {
		return ""
	}
	return string(*t.Intake.Category)
}

// MockNotifier records submitted tickets and can be told to fail.
type MockNotifier struct {
	mu      sync.Mutex
	Tickets []models.Ticket
	Err     error
}

// Submit implements Notifier.
func (m *MockNotifier) Submit(_ context.Context, t models.Ticket) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Receipt{}, m.Err
	}
	m.Tickets = append(m.Tickets, t)
	return Receipt{ReferenceID: t.ReferenceID, EmailSent: true}, nil
}

// Submitted returns a copy of the recorded tickets.
func (m *MockNotifier) Submitted() []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Ticket(nil), m.Tickets...)
}

// SetErr changes the failure returned by Submit.
func (m *MockNotifier) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// TicketStore is the part of store.Store needed to redeliver tickets.
type TicketStore interface {
	GetTicket(referenceID string) (models.Ticket, error)
	SaveTicket(t models.Ticket) error
}

// OutboxPayload is the outbox payload of a ticket notification.
type OutboxPayload struct {
	ReferenceID string `json:"referenceId"`
}

// EncodeOutboxPayload serializes the payload for referenceID.
func EncodeOutboxPayload(referenceID string) (string, error) {
	data, err := json.Marshal(OutboxPayload{ReferenceID: referenceID})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewOutboxSendFunc returns the OutboxSender callback that redelivers pending tickets and marks
// them notified on success.
func NewOutboxSendFunc(n Notifier, tickets TicketStore) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != store.OutboxKindTicketNotification {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p OutboxPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decode outbox payload: %w", err)
		}
		t, err := tickets.GetTicket(p.ReferenceID)
		if err != nil {
			return err
		}
		if t.Status == models.TicketStatusNotified {
			return nil
		}
		receipt, err := n.Submit(ctx, t)
		if err != nil {
			return err
		}
		t.Status = models.TicketStatusNotified
		t.EmailSent = receipt.EmailSent
		if err := tickets.SaveTicket(t); err != nil {
			// The helpdesk already has the ticket; a retry would notify twice.
			slog.Error("OutboxSendFunc: ticket notified but status update failed", "referenceID", t.ReferenceID, "error", err)
		}
		slog.Info("OutboxSendFunc: pending ticket delivered", "referenceID", t.ReferenceID, "attempts", msg.Attempts+1)
		return nil
	}
}
