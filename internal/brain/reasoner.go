// Package brain proposes the next conversational move. Its decisions are advisory: the state
// machine validates them and the submission gate never relies on them.
package brain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Input is the summarized turn state given to the reasoner.
type Input struct {
	Message            string
	Intent             models.IntentResult
	State              models.ConversationState
	Intake             models.IntakeFields
	Missing            []models.FieldName
	LastBotQuestion    string
	LastExpectedField  models.FieldName
	SubmissionDeclined bool
	Summary            string
}

// Complete reports whether no required field is missing.
func (in Input) Complete() bool {
	return len(in.Missing) == 0
}

// Semantic is a pluggable reasoning capability.
type Semantic interface {
	Decide(ctx context.Context, in Input) (models.BrainDecision, error)
}

// Reasoner produces a BrainDecision for each turn.
type Reasoner struct {
	semantic Semantic
}

// NewReasoner creates a Reasoner. semantic may be nil.
func NewReasoner(semantic Semantic) *Reasoner {
	return &Reasoner{semantic: semantic}
}

// Decide asks the semantic reasoner when available and falls back to RuleDecision.
func (r *Reasoner) Decide(ctx context.Context, in Input) models.BrainDecision {
	if r.semantic != nil {
		d, err := r.semantic.Decide(ctx, in)
		if err == nil {
			err = validate(d)
		}
		if err == nil {
			d.Source = "semantic"
			if d.Action == models.ActionSubmit && !in.Complete() {
				d.Action = models.ActionAsk
			}
			d.FieldsToExtract = union(d.FieldsToExtract, RuleDecision(in).FieldsToExtract)
			return d
		}
		slog.Warn("Reasoner.Decide: semantic decision unusable, using rules", "error", err)
	}
	return RuleDecision(in)
}

func validate(d models.BrainDecision) error {
	if _, ok := models.ParseAction(string(d.Action)); !ok {
		return fmt.Errorf("%w: unknown action %q", models.ErrMalformedCapabilityResponse, d.Action)
	}
	for _, f := range d.FieldsToExtract {
		if !f.IsValid() {
			return fmt.Errorf("%w: unknown field %q", models.ErrMalformedCapabilityResponse, f)
		}
	}
	if d.QuestionField != "" && !d.QuestionField.IsValid() {
		return fmt.Errorf("%w: unknown question field %q", models.ErrMalformedCapabilityResponse, d.QuestionField)
	}
	if d.SuggestedNextState != "" && !d.SuggestedNextState.IsValid() {
		return fmt.Errorf("%w: unknown state %q", models.ErrMalformedCapabilityResponse, d.SuggestedNextState)
	}
	return nil
}

func union(a, b []models.FieldName) []models.FieldName {
	seen := map[models.FieldName]bool{}
	var out []models.FieldName
	for _, f := range append(append([]models.FieldName{}, a...), b...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Acknowledgments used by the rule reasoner.
const (
	AckSecurityRisk  = "Please don't share passwords or codes with me. The helpdesk will never ask for them."
	AckOffTopic      = "I can only help with IT support requests here."
	AckWait          = "Sure, take your time. Tell me when you're back."
	AckStillChecking = "No rush, I'll be here when you're ready."
	AckCancel        = "No problem, I've cleared what we had so far. Let's start over."
	AckDeny          = "Okay, I won't submit it yet. What would you like to change or add?"
	AckFrustration   = "Sorry this is taking a while. Just a couple more details and we're done."
	AckQuestion      = "I'm collecting the details the helpdesk needs to open a ticket for you."
	AckThanks        = "Thanks, got it."
	AckGreeting      = "Hi! I can help you open an IT support ticket."
)

// RuleDecision is the deterministic reasoner. It depends only on the intent and the missing fields.
func RuleDecision(in Input) models.BrainDecision {
	d := models.BrainDecision{Source: "rules"}
	next, hasNext := NextField(in.Missing, "")

	ask := func(f models.FieldName, q string) {
		d.ShouldAskQuestion = true
		d.QuestionField = f
		d.QuestionToAsk = q
	}
	ackWith := func(text string) {
		d.ShouldAcknowledge = true
		d.Acknowledgment = text
	}
	askOrSummarize := func() {
		if hasNext {
			d.Action = models.ActionAsk
			ask(next, Question(next))
			d.SuggestedNextState = models.StateProbing
			return
		}
		d.Action = models.ActionShowSummary
		d.SuggestedNextState = models.StateReadyToSubmit
	}

	switch in.Intent.Intent {
	case models.IntentSecurityRisk:
		d.Action = models.ActionRedirect
		ackWith(AckSecurityRisk)
		if hasNext {
			ask(next, Question(next))
		}
	case models.IntentOffTopic:
		d.Action = models.ActionRedirect
		ackWith(AckOffTopic)
		if hasNext {
			ask(next, Question(next))
		}
	case models.IntentInterruptWait:
		d.Action = models.ActionWait
		if in.Intent.IsStillChecking {
			ackWith(AckStillChecking)
		} else {
			ackWith(AckWait)
		}
		d.SuggestedNextState = models.StateWaiting
	case models.IntentConfirmSubmit:
		if in.Complete() {
			d.Action = models.ActionSubmit
			d.SuggestedNextState = models.StateConfirmingSubmission
			break
		}
		askOrSummarize()
	case models.IntentDenySubmit:
		d.SuggestedNextState = models.StateProbing
		if in.Intent.IsCancel {
			d.Action = models.ActionAcknowledge
			ackWith(AckCancel)
			ask(models.FieldProblem, Question(models.FieldProblem))
			break
		}
		d.Action = models.ActionAsk
		ackWith(AckDeny)
		d.FieldsToExtract = models.AllFields
	case models.IntentNoMoreInfo:
		d.FieldsToExtract = in.Missing
		askOrSummarize()
	case models.IntentFrustration:
		ackWith(AckFrustration)
		d.FieldsToExtract = in.Missing
		if f, ok := NextField(in.Missing, in.LastExpectedField); ok {
			d.Action = models.ActionAsk
			ask(f, Rephrase(f))
			d.SuggestedNextState = models.StateClarifying
			break
		}
		d.Action = models.ActionShowSummary
		d.SuggestedNextState = models.StateReadyToSubmit
	case models.IntentIdle:
		if in.Intent.IsGreeting {
			ackWith(AckGreeting)
		}
		if in.State == models.StateReadyToSubmit || in.State == models.StateConfirmingSubmission {
			d.Action = models.ActionShowSummary
			d.SuggestedNextState = in.State
			break
		}
		askOrSummarize()
	case models.IntentAskQuestion:
		ackWith(AckQuestion)
		if in.Intent.IsConfusion && in.LastExpectedField != "" {
			d.Action = models.ActionAsk
			ask(in.LastExpectedField, Rephrase(in.LastExpectedField))
			d.SuggestedNextState = models.StateClarifying
			break
		}
		askOrSummarize()
	case models.IntentProvideInfo, models.IntentAddMoreInfo:
		d.FieldsToExtract = fieldsForInfo(in)
		if in.Intent.Intent == models.IntentAddMoreInfo || in.Intent.IsCorrection {
			ackWith(AckThanks)
		}
		askOrSummarize()
	default:
		askOrSummarize()
	}
	return d
}

// fieldsForInfo selects extraction targets for an informative message.
func fieldsForInfo(in Input) []models.FieldName {
	if in.Intent.IsCorrection || in.Intent.IsResume || in.Intent.Intent == models.IntentAddMoreInfo ||
		in.State == models.StateReadyToSubmit || in.State == models.StateConfirmingSubmission {
		return models.AllFields
	}
	fields := append([]models.FieldName{}, in.Missing...)
	if in.Intent.AnswerField != "" {
		fields = union(fields, []models.FieldName{in.Intent.AnswerField})
	}
	if len(fields) == 0 {
		return models.AllFields
	}
	return fields
}
