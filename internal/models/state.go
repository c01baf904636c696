package models

// ConversationState is the backend-owned position of a conversation in the intake flow.
type ConversationState string

const (
	StateInit                 ConversationState = "INIT"
	StateProbing              ConversationState = "PROBING"
	StateClarifying           ConversationState = "CLARIFYING"
	StateWaiting              ConversationState = "WAITING"
	StateReadyToSubmit        ConversationState = "READY_TO_SUBMIT"
	StateConfirmingSubmission ConversationState = "CONFIRMING_SUBMISSION"
	StateSubmitted            ConversationState = "SUBMITTED"
	StateBlockedSecurity      ConversationState = "BLOCKED_SECURITY"
)

// ConversationStates lists every state.
var ConversationStates = []ConversationState{
	StateInit, StateProbing, StateClarifying, StateWaiting,
	StateReadyToSubmit, StateConfirmingSubmission, StateSubmitted, StateBlockedSecurity,
}

// IsValid reports whether s is a known state.
func (s ConversationState) IsValid() bool {
	for _, known := range ConversationStates {
		if s == known {
			return true
		}
	}
	return false
}

// AllowsFieldMutation reports whether intake fields may change while in s.
func (s ConversationState) AllowsFieldMutation() bool {
	switch s {
	case StateSubmitted, StateWaiting, StateBlockedSecurity:
		return false
	default:
		return true
	}
}

// Intent is the classified purpose of one user message.
type Intent string

const (
	IntentProvideInfo   Intent = "PROVIDE_INFO"
	IntentAskQuestion   Intent = "ASK_QUESTION"
	IntentAddMoreInfo   Intent = "ADD_MORE_INFO"
	IntentInterruptWait Intent = "INTERRUPT_WAIT"
	IntentConfirmSubmit Intent = "CONFIRM_SUBMIT"
	IntentDenySubmit    Intent = "DENY_SUBMIT"
	IntentNoMoreInfo    Intent = "NO_MORE_INFO"
	IntentFrustration   Intent = "FRUSTRATION"
	IntentIdle          Intent = "IDLE"
	IntentSecurityRisk  Intent = "SECURITY_RISK"
	IntentOffTopic      Intent = "OFF_TOPIC"
)

// Intents lists every intent.
var Intents = []Intent{
	IntentProvideInfo, IntentAskQuestion, IntentAddMoreInfo, IntentInterruptWait,
	IntentConfirmSubmit, IntentDenySubmit, IntentNoMoreInfo, IntentFrustration,
	IntentIdle, IntentSecurityRisk, IntentOffTopic,
}

// ParseIntent validates s against the closed intent set.
func ParseIntent(s string) (Intent, bool) {
	for _, known := range Intents {
		if Intent(s) == known {
			return known, true
		}
	}
	return "", false
}

// IntentSource records which tier of the classifier cascade produced a result.
type IntentSource string

const (
	IntentSourceRule     IntentSource = "rule"
	IntentSourceSemantic IntentSource = "semantic"
	IntentSourceFallback IntentSource = "fallback"
)

// IntentResult is the classifier output for one message.
type IntentResult struct {
	Intent      Intent       `json:"intent"`
	Confidence  float64      `json:"confidence"`
	Source      IntentSource `json:"source"`
	Rule        string       `json:"rule,omitempty"`
	AnswerField FieldName    `json:"answerField,omitempty"` // set when the message is a short answer to the last question

	IsCorrection    bool `json:"isCorrection,omitempty"`
	IsResume        bool `json:"isResume,omitempty"`
	IsStillChecking bool `json:"isStillChecking,omitempty"`
	IsCancel        bool `json:"isCancel,omitempty"`
	IsGreeting      bool `json:"isGreeting,omitempty"`
	IsConfusion     bool `json:"isConfusion,omitempty"`
}

// IsNewInformation reports whether the result signals the user is changing or adding intake data.
func (r IntentResult) IsNewInformation() bool {
	return r.IsCorrection || r.Intent == IntentAddMoreInfo
}
