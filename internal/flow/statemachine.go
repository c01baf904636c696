// Package flow drives one conversation turn through the orchestration pipeline. It owns the
// authoritative state machine, the submission gate, per-session serialization and expiry.
package flow

import (
	"log/slog"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Transition rule names recorded in the turn trace.
const (
	RuleTable          = "table"
	RuleStay           = "default_stay"
	RuleSubmittedFinal = "submitted_final"
	RuleSecurityLock   = "security_lock"
	RuleWaitingLock    = "waiting_lock"
	RuleResume         = "resume"
	RuleCancel         = "cancel"
	RuleDecline        = "decline"
	RuleConfirm        = "confirm_submit"
	RuleConfirmMissing = "confirm_incomplete"
	RuleForceReady     = "force_ready"
	RuleReadyProtected = "ready_protected"
	RuleIncomplete     = "incomplete_fields"
	RuleClarify        = "clarify"
)

type tableKey struct {
	state  models.ConversationState
	intent models.Intent
}

// transitions is the base (state, intent) table. Pairs that are absent stay in place. The hard
// rules in Next are applied on top of it.
var transitions = map[tableKey]models.ConversationState{
	{models.StateInit, models.IntentProvideInfo}:   models.StateProbing,
	{models.StateInit, models.IntentAddMoreInfo}:   models.StateProbing,
	{models.StateInit, models.IntentAskQuestion}:   models.StateProbing,
	{models.StateInit, models.IntentIdle}:          models.StateProbing,
	{models.StateInit, models.IntentNoMoreInfo}:    models.StateProbing,
	{models.StateInit, models.IntentFrustration}:   models.StateClarifying,
	{models.StateInit, models.IntentInterruptWait}: models.StateWaiting,
	{models.StateInit, models.IntentDenySubmit}:    models.StateProbing,

	{models.StateProbing, models.IntentFrustration}:   models.StateClarifying,
	{models.StateProbing, models.IntentInterruptWait}: models.StateWaiting,

	{models.StateClarifying, models.IntentProvideInfo}:   models.StateProbing,
	{models.StateClarifying, models.IntentAddMoreInfo}:   models.StateProbing,
	{models.StateClarifying, models.IntentNoMoreInfo}:    models.StateProbing,
	{models.StateClarifying, models.IntentDenySubmit}:    models.StateProbing,
	{models.StateClarifying, models.IntentInterruptWait}: models.StateWaiting,

	{models.StateReadyToSubmit, models.IntentDenySubmit}:    models.StateProbing,
	{models.StateReadyToSubmit, models.IntentProvideInfo}:   models.StateProbing,
	{models.StateReadyToSubmit, models.IntentAddMoreInfo}:   models.StateProbing,
	{models.StateReadyToSubmit, models.IntentInterruptWait}: models.StateWaiting,

	{models.StateConfirmingSubmission, models.IntentDenySubmit}:    models.StateProbing,
	{models.StateConfirmingSubmission, models.IntentProvideInfo}:   models.StateProbing,
	{models.StateConfirmingSubmission, models.IntentAddMoreInfo}:   models.StateProbing,
	{models.StateConfirmingSubmission, models.IntentInterruptWait}: models.StateWaiting,
	{models.StateConfirmingSubmission, models.IntentIdle}:          models.StateReadyToSubmit,
	{models.StateConfirmingSubmission, models.IntentAskQuestion}:   models.StateReadyToSubmit,
	{models.StateConfirmingSubmission, models.IntentOffTopic}:      models.StateReadyToSubmit,
	{models.StateConfirmingSubmission, models.IntentFrustration}:   models.StateReadyToSubmit,
}

// TransitionInput is everything the state machine may look at.
type TransitionInput struct {
	From               models.ConversationState
	Intent             models.IntentResult
	Complete           bool // every required field present at threshold, after this turn's merge
	SubmissionDeclined bool // declined and not since changed
	FieldsChanged      bool // this turn's merge modified the intake
	Suggested          models.ConversationState
}

// Transition is the state machine verdict.
type Transition struct {
	To   models.ConversationState
	Rule string
}

// StateMachine is the only component allowed to move a session toward submission.
type StateMachine struct{}

// NewStateMachine creates a StateMachine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Next computes the next state. The reasoner suggestion is only honoured where the table has no
// opinion and the suggestion is a non-submission state reachable without a gate.
func (m *StateMachine) Next(in TransitionInput) Transition {
	t := m.next(in)
	slog.Debug("StateMachine.Next", "from", in.From, "intent", in.Intent.Intent, "to", t.To, "rule", t.Rule)
	return t
}

func (m *StateMachine) next(in TransitionInput) Transition {
	intent := in.Intent.Intent

	switch in.From {
	case models.StateSubmitted:
		return Transition{models.StateSubmitted, RuleSubmittedFinal}
	case models.StateBlockedSecurity:
		return Transition{models.StateBlockedSecurity, RuleSecurityLock}
	case models.StateWaiting:
		if !in.Intent.IsResume {
			return Transition{models.StateWaiting, RuleWaitingLock}
		}
		if in.Complete {
			return Transition{models.StateReadyToSubmit, RuleForceReady}
		}
		return Transition{models.StateProbing, RuleResume}
	}

	if in.Intent.IsCancel {
		return Transition{models.StateProbing, RuleCancel}
	}

	if intent == models.IntentConfirmSubmit {
		if in.Complete {
			return Transition{models.StateConfirmingSubmission, RuleConfirm}
		}
		return Transition{models.StateProbing, RuleConfirmMissing}
	}

	if intent == models.IntentDenySubmit && (in.From == models.StateReadyToSubmit || in.From == models.StateConfirmingSubmission) {
		return Transition{models.StateProbing, RuleDecline}
	}

	base := Transition{in.From, RuleStay}
	if to, ok := transitions[tableKey{in.From, intent}]; ok {
		base = Transition{to, RuleTable}
	}
	if base.Rule == RuleStay && in.From == models.StateConfirmingSubmission {
		// Only an explicit confirmation keeps a session in the confirmation step.
		base = Transition{models.StateReadyToSubmit, RuleTable}
	}
	if intent == models.IntentAskQuestion && in.Intent.IsConfusion && base.To != models.StateReadyToSubmit {
		base = Transition{models.StateClarifying, RuleClarify}
	}
	if base.Rule == RuleStay && in.Suggested == models.StateClarifying && in.From == models.StateProbing {
		base = Transition{models.StateClarifying, RuleClarify}
	}

	if base.To == models.StateWaiting {
		return base
	}

	if !in.Complete {
		if base.To == models.StateReadyToSubmit || base.To == models.StateConfirmingSubmission {
			return Transition{models.StateProbing, RuleIncomplete}
		}
		return base
	}

	// Rule 2: READY_TO_SUBMIT holds unless the user declined or changed something.
	if in.From == models.StateReadyToSubmit && base.To != models.StateReadyToSubmit {
		changing := in.Intent.IsCorrection || in.Intent.IsNewInformation() || in.FieldsChanged
		if !changing {
			return Transition{models.StateReadyToSubmit, RuleReadyProtected}
		}
	}

	// Rule 1: a complete intake is pushed to READY_TO_SUBMIT unless the user is asking, off
	// topic, or has declined and not changed anything since.
	if base.To != models.StateReadyToSubmit && base.To != models.StateConfirmingSubmission && forcesReady(intent) {
		if !in.SubmissionDeclined {
			return Transition{models.StateReadyToSubmit, RuleForceReady}
		}
	}
	return base
}

func forcesReady(i models.Intent) bool {
	switch i {
	case models.IntentOffTopic, models.IntentAskQuestion, models.IntentInterruptWait, models.IntentSecurityRisk:
		return false
	}
	return true
}
