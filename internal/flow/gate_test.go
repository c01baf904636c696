package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/models"
)

func readySession(values map[models.FieldName]string) *models.SessionState {
	s := models.NewSessionState("gate-session", models.UserContext{}, newTestClock().Now(), DefaultSessionTTL)
	for f, v := range values {
		_ = s.Intake.Set(f, v)
		s.Confidence[f] = 0.95
	}
	s.ConversationState = models.StateConfirmingSubmission
	s.SubmissionApproved = true
	return s
}

func TestSubmissionGate_RequiresApprovalAndState(t *testing.T) {
	g := NewSubmissionGate(intake.DefaultThresholds())
	s := readySession(map[models.FieldName]string{
		models.FieldProblem:        "VPN drops",
		models.FieldCategory:       "network",
		models.FieldUrgency:        "medium",
		models.FieldAffectedSystem: "VPN",
		models.FieldErrorText:      models.NoErrorProvided,
	})
	if err := g.Check(s); err != nil {
		t.Fatalf("expected gate to pass, got %v", err)
	}

	s.SubmissionApproved = false
	var sbe *models.SubmissionBlockedError
	if err := g.Check(s); !errors.As(err, &sbe) || sbe.Reason != GateReasonNotApproved {
		t.Errorf("expected not approved, got %v", err)
	}

	s.SubmissionApproved = true
	s.ConversationState = models.StateProbing
	if err := g.Check(s); !errors.As(err, &sbe) || sbe.Reason != GateReasonState {
		t.Errorf("expected state rejection, got %v", err)
	}
}

func TestSubmissionGate_OtherCategoryNeedsAffectedSystem(t *testing.T) {
	g := NewSubmissionGate(intake.DefaultThresholds())
	s := readySession(map[models.FieldName]string{
		models.FieldProblem:   "strange noise from the dock",
		models.FieldCategory:  "other",
		models.FieldUrgency:   "low",
		models.FieldErrorText: models.NoErrorProvided,
	})
	err := g.Check(s)
	if !errors.Is(err, models.ErrSubmissionBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	var sbe *models.SubmissionBlockedError
	if !errors.As(err, &sbe) || sbe.Field != models.FieldAffectedSystem {
		t.Errorf("expected affectedSystem to block, got %v", err)
	}
}

func TestSubmissionGate_PasswordSkipsAffectedSystem(t *testing.T) {
	g := NewSubmissionGate(intake.DefaultThresholds())
	s := readySession(map[models.FieldName]string{
		models.FieldProblem:   "my password expired",
		models.FieldCategory:  "password",
		models.FieldUrgency:   "blocked",
		models.FieldErrorText: models.NoErrorProvided,
	})
	if err := g.Check(s); err != nil {
		t.Errorf("password tickets do not need an affected system, got %v", err)
	}
}
