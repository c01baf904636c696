package models

import (
	"time"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of the append-only conversation transcript.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// UserContext carries caller identity supplied by the transport.
type UserContext struct {
	UserID  string `json:"userId,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// TurnTrace is the audit record of the most recent turn.
type TurnTrace struct {
	Turn            int               `json:"turn"`
	Intent          IntentResult      `json:"intent"`
	Security        SecurityDecision  `json:"security"`
	Decision        BrainDecision     `json:"decision"`
	MergeDecisions  []MergeDecision   `json:"mergeDecisions,omitempty"`
	FromState       ConversationState `json:"fromState"`
	ToState         ConversationState `json:"toState"`
	TransitionRule  string            `json:"transitionRule"`
	RequestedFields []FieldName       `json:"requestedFields,omitempty"`
}

// SessionState is the aggregate owned by one conversation. It is replaced whole at the end of
// each turn and never partially updated.
type SessionState struct {
	SessionID          string            `json:"sessionId"`
	UserContext        UserContext       `json:"userContext"`
	Intake             IntakeFields      `json:"intake"`
	Confidence         ConfidenceMap     `json:"confidenceByField"`
	ConversationState  ConversationState `json:"conversationState"`
	BlockedFromState   ConversationState `json:"blockedFromState,omitempty"` // state to restore after a security block
	LastBotQuestion    string            `json:"lastBotQuestion,omitempty"`
	LastExpectedField  FieldName         `json:"lastExpectedField,omitempty"`
	SubmissionApproved bool              `json:"submissionApproved"`
	SubmissionDeclined bool              `json:"submissionDeclined"`
	ApprovedAtTurn     int               `json:"approvedAtTurn,omitempty"`
	TurnCount          int               `json:"turnCount"`
	MessageHistory     []Message         `json:"messageHistory"`
	TicketReference    string            `json:"ticketReference,omitempty"`
	LastTurn           *TurnTrace        `json:"lastTurn,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	ExpiresAt          time.Time         `json:"expiresAt"`
}

// NewSessionState returns a fresh session in INIT.
func NewSessionState(id string, user UserContext, now time.Time, ttl time.Duration) *SessionState {
	return &SessionState{
		SessionID:         id,
		UserContext:       user,
		Confidence:        make(ConfidenceMap),
		ConversationState: StateInit,
		MessageHistory:    []Message{},
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
}

// Clone returns a deep copy of the session.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Intake = s.Intake.Clone()
	out.Confidence = s.Confidence.Clone()
	out.MessageHistory = make([]Message, len(s.MessageHistory))
	copy(out.MessageHistory, s.MessageHistory)
	if s.LastTurn != nil {
		trace := *s.LastTurn
		trace.MergeDecisions = append([]MergeDecision(nil), s.LastTurn.MergeDecisions...)
		trace.RequestedFields = append([]FieldName(nil), s.LastTurn.RequestedFields...)
		trace.Decision.FieldsToExtract = append([]FieldName(nil), s.LastTurn.Decision.FieldsToExtract...)
		out.LastTurn = &trace
	}
	return &out
}

// IsExpired reports whether the inactivity window has passed.
func (s *SessionState) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Append adds a message to the transcript.
func (s *SessionState) Append(role MessageRole, content string, now time.Time) {
	s.MessageHistory = append(s.MessageHistory, Message{Role: role, Content: content, Timestamp: now})
}

// RecentUserMessages returns up to n most recent user messages, oldest first.
func (s *SessionState) RecentUserMessages(n int) []string {
	var out []string
	for i := len(s.MessageHistory) - 1; i >= 0 && len(out) < n; i-- {
		if s.MessageHistory[i].Role == RoleUser {
			out = append(out, s.MessageHistory[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LastBotMessage returns the most recent assistant message, if any.
func (s *SessionState) LastBotMessage() string {
	for i := len(s.MessageHistory) - 1; i >= 0; i-- {
		if s.MessageHistory[i].Role == RoleAssistant {
			return s.MessageHistory[i].Content
		}
	}
	return ""
}

// ResetIntake clears every collected field and the submission flags.
func (s *SessionState) ResetIntake() {
	s.Intake = IntakeFields{}
	s.Confidence = make(ConfidenceMap)
	s.SubmissionApproved = false
	s.SubmissionDeclined = false
	s.ApprovedAtTurn = 0
	s.LastExpectedField = ""
}
