package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

type mockExtractor struct {
	cands models.Candidates
	err   error
	calls int
}

func (m *mockExtractor) Extract(_ context.Context, _ Request) (models.Candidates, error) {
	m.calls++
	return m.cands, m.err
}

func TestRuleExtractor_OutlookScenario(t *testing.T) {
	req := Request{
		Message: "I can't log into Outlook, it's urgent, error says 'invalid credentials'",
		Fields:  models.AllFields,
	}
	got, err := NewRuleExtractor().Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[models.FieldName]string{
		models.FieldProblem:        "I can't log into Outlook",
		models.FieldUrgency:        "high",
		models.FieldErrorText:      "invalid credentials",
		models.FieldAffectedSystem: "Outlook",
	}
	for f, v := range want {
		c, ok := got[f]
		if !ok {
			t.Errorf("expected %s to be extracted", f)
			continue
		}
		if c.Value != v {
			t.Errorf("%s: expected %q, got %q", f, v, c.Value)
		}
		if c.Confidence < 0.7 {
			t.Errorf("%s: expected confidence >= 0.7, got %v", f, c.Confidence)
		}
	}
}

func TestRuleExtractor_OnlyRequestedFields(t *testing.T) {
	req := Request{
		Message: "Outlook crashes, it's urgent",
		Fields:  []models.FieldName{models.FieldUrgency},
	}
	got, _ := NewRuleExtractor().Extract(context.Background(), req)
	if len(got) != 1 {
		t.Fatalf("expected only urgency, got %v", got)
	}
	if _, ok := got[models.FieldUrgency]; !ok {
		t.Error("expected urgency candidate")
	}
}

func TestRuleExtractor_ShortAnswers(t *testing.T) {
	tests := []struct {
		msg      string
		expected models.FieldName
		field    models.FieldName
		value    string
	}{
		{"high", models.FieldUrgency, models.FieldUrgency, "high"},
		{"make it low", "", models.FieldUrgency, "low"},
		{"network", models.FieldCategory, models.FieldCategory, "network"},
		{"no error", models.FieldErrorText, models.FieldErrorText, models.NoErrorProvided},
		{"none", models.FieldErrorText, models.FieldErrorText, models.NoErrorProvided},
		{"0x800CCC0E popped up", "", models.FieldErrorText, "0x800CCC0E"},
		{"the HR portal", models.FieldAffectedSystem, models.FieldAffectedSystem, "the HR portal"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			req := Request{Message: tt.msg, Fields: []models.FieldName{tt.field}, LastExpectedField: tt.expected}
			got, _ := NewRuleExtractor().Extract(context.Background(), req)
			c, ok := got[tt.field]
			if !ok {
				t.Fatalf("expected %s candidate for %q", tt.field, tt.msg)
			}
			if c.Value != tt.value {
				t.Errorf("expected %q, got %q", tt.value, c.Value)
			}
		})
	}
}

func TestRuleExtractor_DontKnow(t *testing.T) {
	req := Request{Message: "I don't know", Fields: models.AllFields, LastExpectedField: models.FieldAffectedSystem}
	got, _ := NewRuleExtractor().Extract(context.Background(), req)
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}

	req.LastExpectedField = models.FieldErrorText
	got, _ = NewRuleExtractor().Extract(context.Background(), req)
	if len(got) != 1 || got[models.FieldErrorText].Value != models.NoErrorProvided {
		t.Errorf("expected only the no-error sentinel, got %v", got)
	}
}

func TestValidate_DropsInvalidEnumsAndUnrequested(t *testing.T) {
	req := Request{Fields: []models.FieldName{models.FieldCategory, models.FieldUrgency}}
	got := Validate(req, models.Candidates{
		models.FieldCategory: {Value: "printers", Confidence: 0.9},
		models.FieldUrgency:  {Value: "HIGH", Confidence: 1.4},
		models.FieldProblem:  {Value: "unrequested", Confidence: 0.9},
	})
	if _, ok := got[models.FieldCategory]; ok {
		t.Error("invalid category should be dropped, not coerced")
	}
	if _, ok := got[models.FieldProblem]; ok {
		t.Error("unrequested field should be dropped")
	}
	u := got[models.FieldUrgency]
	if u.Value != "high" || u.Confidence != 1 {
		t.Errorf("expected normalized high with clamped confidence, got %+v", u)
	}
}

func TestCascade_FallsBackToRulesOnError(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("timeout: %w", models.ErrCapabilityUnavailable),
		fmt.Errorf("bad json: %w", models.ErrMalformedCapabilityResponse),
	} {
		sem := &mockExtractor{err: err}
		c := NewCascade(sem, nil)
		got, gotErr := c.Extract(context.Background(), Request{Message: "high", Fields: []models.FieldName{models.FieldUrgency}, LastExpectedField: models.FieldUrgency})
		if gotErr != nil {
			t.Fatalf("cascade should not fail: %v", gotErr)
		}
		if got[models.FieldUrgency].Value != "high" {
			t.Errorf("expected rule fallback to extract high, got %v", got)
		}
		if !errors.Is(err, models.ErrCapabilityUnavailable) && !errors.Is(err, models.ErrMalformedCapabilityResponse) {
			t.Fatal("unexpected error kind")
		}
	}
}

func TestCascade_PrefersSemanticAndValidatesIt(t *testing.T) {
	sem := &mockExtractor{cands: models.Candidates{
		models.FieldProblem:  {Value: "Outlook cannot authenticate", Confidence: 0.85},
		models.FieldCategory: {Value: "bogus", Confidence: 0.9},
	}}
	c := NewCascade(sem, NewRuleExtractor())
	req := Request{
		Message: "I can't log into Outlook, it's urgent",
		Fields:  []models.FieldName{models.FieldProblem, models.FieldCategory, models.FieldUrgency},
	}
	got, _ := c.Extract(context.Background(), req)
	if got[models.FieldProblem].Value != "Outlook cannot authenticate" {
		t.Errorf("expected semantic problem, got %q", got[models.FieldProblem].Value)
	}
	if _, ok := got[models.FieldCategory]; ok {
		t.Error("invalid semantic category must be discarded")
	}
	if got[models.FieldUrgency].Value != "high" {
		t.Errorf("expected rules to fill urgency, got %v", got[models.FieldUrgency])
	}
	if sem.calls != 1 {
		t.Errorf("expected one semantic call, got %d", sem.calls)
	}
}

func TestCascade_NoFieldsSkipsWork(t *testing.T) {
	sem := &mockExtractor{}
	got, _ := NewCascade(sem, nil).Extract(context.Background(), Request{Message: "hello"})
	if len(got) != 0 || sem.calls != 0 {
		t.Errorf("expected no work, got %v calls=%d", got, sem.calls)
	}
}
