package models

// SecurityDecisionType is the outcome of screening one message for sensitive data.
type SecurityDecisionType string

const (
	SecurityPass  SecurityDecisionType = "PASS"
	SecuritySafe  SecurityDecisionType = "SAFE"
	SecurityBlock SecurityDecisionType = "BLOCK"
)

// PatternType names the rule that produced a security decision.
type PatternType string

const (
	PatternNone             PatternType = "NONE"
	PatternLiteral          PatternType = "LITERAL"
	PatternHighRiskIntent   PatternType = "HIGH_RISK_INTENT"
	PatternAmbiguousSharing PatternType = "AMBIGUOUS_SHARING"
	PatternSafeContext      PatternType = "SAFE_CONTEXT"
)

// SecurityDecision is the scanner verdict for one message.
type SecurityDecision struct {
	Decision    SecurityDecisionType `json:"decision"`
	PatternType PatternType          `json:"patternType"`
	Message     string               `json:"message,omitempty"` // user-facing explanation for BLOCK
	Label       string               `json:"label,omitempty"`   // which literal pattern matched
}

// Blocked reports whether the message must not proceed.
func (d SecurityDecision) Blocked() bool {
	return d.Decision == SecurityBlock
}

// Action is the high-level move proposed by the reasoner.
type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionAsk         Action = "ask"
	ActionWait        Action = "wait"
	ActionRedirect    Action = "redirect"
	ActionShowSummary Action = "show_summary"
	ActionSubmit      Action = "submit"
)

// Actions lists every action.
var Actions = []Action{ActionAcknowledge, ActionAsk, ActionWait, ActionRedirect, ActionShowSummary, ActionSubmit}

// ParseAction validates s against the closed action set.
func ParseAction(s string) (Action, bool) {
	for _, known := range Actions {
		if Action(s) == known {
			return known, true
		}
	}
	return "", false
}

// BrainDecision is the reasoner's advisory proposal for a turn. It is never trusted to submit.
type BrainDecision struct {
	Action             Action            `json:"action"`
	ShouldAcknowledge  bool              `json:"shouldAcknowledge"`
	Acknowledgment     string            `json:"acknowledgment,omitempty"`
	FieldsToExtract    []FieldName       `json:"fieldsToExtract,omitempty"`
	ShouldAskQuestion  bool              `json:"shouldAskQuestion"`
	QuestionToAsk      string            `json:"questionToAsk,omitempty"`
	QuestionField      FieldName         `json:"questionField,omitempty"`
	SuggestedNextState ConversationState `json:"suggestedNextState,omitempty"`
	Source             string            `json:"source,omitempty"`
}

// MergeAction is what the merge engine did with one candidate.
type MergeAction string

const (
	MergeReplace MergeAction = "replace"
	MergeAppend  MergeAction = "append"
	MergeReject  MergeAction = "reject"
	MergeKeep    MergeAction = "keep"
)

// MergeDecision explains the handling of one field in one turn.
type MergeDecision struct {
	Field      FieldName   `json:"field"`
	Action     MergeAction `json:"action"`
	Reason     string      `json:"reason"`
	OldValue   string      `json:"oldValue,omitempty"`
	NewValue   string      `json:"newValue,omitempty"`
	Confidence float64     `json:"confidence"`
}

// Changed reports whether the decision modified the intake.
func (d MergeDecision) Changed() bool {
	return d.Action == MergeReplace || d.Action == MergeAppend
}
