package flow

import (
	"log/slog"

	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Gate failure reasons that are not about a specific field.
const (
	GateReasonState       = "conversation is not ready to submit"
	GateReasonNotApproved = "the user has not confirmed submission"
)

// SubmissionGate is the last check before a ticket is created.
type SubmissionGate struct {
	thresholds intake.Thresholds
}

// NewSubmissionGate creates a gate using the given thresholds.
func NewSubmissionGate(t intake.Thresholds) *SubmissionGate {
	return &SubmissionGate{thresholds: t}
}

// Check returns nil when the session may be submitted, otherwise a *models.SubmissionBlockedError.
func (g *SubmissionGate) Check(s *models.SessionState) error {
	if s.ConversationState != models.StateReadyToSubmit && s.ConversationState != models.StateConfirmingSubmission {
		return &models.SubmissionBlockedError{Reason: GateReasonState}
	}
	if !s.SubmissionApproved {
		return &models.SubmissionBlockedError{Reason: GateReasonNotApproved}
	}
	if err := g.thresholds.CheckFieldConfidence(s.Intake, s.Confidence); err != nil {
		slog.Info("SubmissionGate.Check: blocked", "sessionID", s.SessionID, "error", err)
		return err
	}
	return nil
}
