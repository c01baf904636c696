package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// DefaultTurnTimeout bounds one relayed turn, including the reply send.
const DefaultTurnTimeout = 30 * time.Second

// Replies used when a turn cannot produce its own message.
const (
	replyInvalid = "Please send your message as text, under 4000 characters."
	replyRetry   = "Sorry, something went wrong on our side. Please send that again."
)

// TurnProcessor runs one conversation turn, creating the session on first contact.
type TurnProcessor interface {
	ProcessOrStart(ctx context.Context, sessionID string, user models.UserContext, req models.MessageRequest) (models.TurnResponse, error)
}

// Relay connects a channel Service to the intake flow. Each sender gets its own session.
type Relay struct {
	svc     Service
	proc    TurnProcessor
	channel string
	timeout time.Duration
}

// NewRelay creates a Relay. channel names the sessions it creates, e.g. "whatsapp".
func NewRelay(svc Service, proc TurnProcessor, channel string) *Relay {
	return &Relay{svc: svc, proc: proc, channel: channel, timeout: DefaultTurnTimeout}
}

// SessionID is the session key used for a sender on this relay's channel.
func (r *Relay) SessionID(from string) string {
	return prefixFor(r.channel) + "-" + from
}

func prefixFor(channel string) string {
	if channel == "whatsapp" {
		return "wa"
	}
	return channel
}

// Run consumes inbound messages until ctx is done or the service is stopped.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("Relay.Run: started", "channel", r.channel)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Relay.Run: stopped", "channel", r.channel)
			return ctx.Err()
		case msg, ok := <-r.svc.Inbound():
			if !ok {
				slog.Info("Relay.Run: inbound closed", "channel", r.channel)
				return nil
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle runs the turn for msg and sends the reply to the sender.
func (r *Relay) Handle(ctx context.Context, msg InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sessionID := r.SessionID(msg.From)
	user := models.UserContext{UserID: msg.From, Name: msg.Name, Channel: r.channel}
	req := models.MessageRequest{Message: msg.Body}
	if msg.MessageID != "" {
		req.MessageID = fmt.Sprintf("%s:%s", prefixFor(r.channel), msg.MessageID)
	}

	reply := replyRetry
	resp, err := r.proc.ProcessOrStart(ctx, sessionID, user, req)
	switch {
	case err == nil:
		reply = resp.Message
		if resp.Warning != "" {
			reply += "\n\n" + resp.Warning
		}
	case errors.Is(err, models.ErrInvalidInput):
		slog.Warn("Relay.Handle: message rejected", "sessionID", sessionID, "body_length", len(msg.Body), "error", err)
		reply = replyInvalid
	default:
		slog.Error("Relay.Handle: turn failed", "sessionID", sessionID, "error", err)
	}

	if err := r.svc.SendMessage(ctx, msg.From, reply); err != nil {
		slog.Error("Relay.Handle: reply failed", "sessionID", sessionID, "error", err)
		return
	}
	slog.Debug("Relay.Handle: replied", "sessionID", sessionID, "type", resp.Type, "state", resp.ConversationState)
}
