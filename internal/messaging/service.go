// Package messaging adapts chat channels to the intake flow. A Service moves text in and out of
// a channel and a Relay turns each inbound message into one conversation turn.
package messaging

import (
	"context"
	"time"
)

// InboundMessage is one text message received from a channel.
type InboundMessage struct {
	// From is the canonical sender, digits only for phone channels.
	From string
	// Name is the sender's display name, if the channel provides one.
	Name string
	Body string
	// MessageID is the channel's id for the message, used for de-duplication.
	MessageID string
	Time      time.Time
}

// Service defines a pluggable chat channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins delivering inbound messages.
	Start(ctx context.Context) error

	// Stop stops delivery and closes the inbound channel.
	Stop() error

	// Inbound returns the channel of received messages.
	Inbound() <-chan InboundMessage
}
