package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/IntakeDesk/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound message may wait for buffer space
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client  whatsapp.WhatsAppSender
	events  whatsapp.EventSource // nil when the client cannot deliver events
	inbound chan InboundMessage

	mu     sync.Mutex
	closed bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
// Inbound messages are only delivered when the client is also a whatsapp.EventSource.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		inbound: make(chan InboundMessage, DefaultChannelBufferSize),
	}
	if src, ok := client.(whatsapp.EventSource); ok {
		s.events = src
	} else {
		slog.Debug("WhatsAppService: client has no event source, inbound disabled")
	}
	return s
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	s.events.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Connected:
			slog.Info("WhatsAppService: connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService: disconnected")
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.inbound)
		slog.Info("WhatsAppService.Stop: inbound channel closed")
	}
	return nil
}

// Inbound returns the channel of received text messages.
func (s *WhatsAppService) Inbound() <-chan InboundMessage {
	return s.inbound
}

// SendMessage sends body to a phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonical, "body_length", len(body))
	return nil
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number and checks it is a
// plausible E.164 number. The result has no leading plus.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(recipient) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", fmt.Errorf("invalid phone number %q", recipient)
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("invalid phone number %q: expected 7 to 15 digits", recipient)
	}
	return digits, nil
}

// handleIncomingMessage forwards direct text messages. Group chats, our own messages, and
// non-text content are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}

	msg := InboundMessage{
		From:      evt.Info.Sender.User,
		Name:      evt.Info.PushName,
		Body:      text,
		MessageID: string(evt.Info.ID),
		Time:      evt.Info.Timestamp,
	}
	s.deliver(msg)
}

func (s *WhatsAppService) deliver(msg InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Debug("WhatsAppService: stopped, dropping message", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService: inbound message forwarded", "from", msg.From, "body_length", len(msg.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: inbound channel full, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

var _ Service = (*WhatsAppService)(nil)
