package models

import (
	"strings"
	"time"
)

// MaxMessageLength bounds a single inbound chat message.
const MaxMessageLength = 4000

// ResponseType classifies a turn response for the transport.
type ResponseType string

const (
	ResponseQuestion       ResponseType = "question"
	ResponseAcknowledgment ResponseType = "acknowledgment"
	ResponseSummary        ResponseType = "summary"
	ResponseConfirmation   ResponseType = "confirmation"
	ResponseSubmitted      ResponseType = "submitted"
	ResponseWaiting        ResponseType = "waiting"
	ResponseRedirect       ResponseType = "redirect"
	ResponseSecurityBlock  ResponseType = "security_block"
	ResponseError          ResponseType = "error"
)

// TicketStatus tracks notification delivery for a ticket.
type TicketStatus string

const (
	TicketStatusNotified            TicketStatus = "notified"
	TicketStatusPendingNotification TicketStatus = "pending_notification"
)

// Ticket is a finalized, submitted intake.
type Ticket struct {
	ReferenceID string       `json:"referenceId"`
	SessionID   string       `json:"sessionId"`
	Intake      IntakeFields `json:"intake"`
	Summary     string       `json:"summary"`
	User        UserContext  `json:"user"`
	Status      TicketStatus `json:"status"`
	EmailSent   bool         `json:"emailSent"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// TicketReceipt is what the transport shows about a submitted ticket.
type TicketReceipt struct {
	ReferenceID string `json:"referenceId"`
	EmailSent   bool   `json:"emailSent"`
}

// TurnResponse is the core's output for one turn.
type TurnResponse struct {
	SessionID         string            `json:"sessionId"`
	Message           string            `json:"message"`
	Type              ResponseType      `json:"type"`
	ConversationState ConversationState `json:"conversationState"`
	Ticket            *TicketReceipt    `json:"ticket,omitempty"`
	Warning           string            `json:"warning,omitempty"`
	MissingField      FieldName         `json:"missingField,omitempty"`
}

// CreateSessionRequest is the payload for explicit session creation.
type CreateSessionRequest struct {
	User UserContext `json:"user"`
}

// MessageRequest is the payload carrying one user message.
type MessageRequest struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"` // optional client id used for de-duplication
}

// Validate rejects empty and oversized messages before any state is touched.
func (r *MessageRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrInvalidInput
	}
	if len(r.Message) > MaxMessageLength {
		return ErrInvalidInput
	}
	return nil
}

// APIStatus is the status field of the JSON envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
