package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCategory_RejectsUnknown(t *testing.T) {
	if _, ok := ParseCategory("printer"); ok {
		t.Error("expected 'printer' to be rejected")
	}
	c, ok := ParseCategory(" Email ")
	if !ok || c != CategoryEmail {
		t.Errorf("expected email, got %q ok=%v", c, ok)
	}
}

func TestIntakeFields_SetInvalidEnumLeavesFieldUnset(t *testing.T) {
	var in IntakeFields
	if in.Set(FieldUrgency, "whenever") {
		t.Fatal("expected invalid urgency to be rejected")
	}
	if in.Has(FieldUrgency) {
		t.Error("urgency should remain unset")
	}
	if !in.Set(FieldUrgency, "HIGH") {
		t.Fatal("expected HIGH to be accepted")
	}
	if v, _ := in.Get(FieldUrgency); v != "high" {
		t.Errorf("expected normalized 'high', got %q", v)
	}
}

func TestIntakeFields_CloneIsDeep(t *testing.T) {
	var in IntakeFields
	in.Set(FieldProblem, "vpn drops")
	out := in.Clone()
	out.Set(FieldProblem, "changed")
	if v, _ := in.Get(FieldProblem); v != "vpn drops" {
		t.Errorf("clone mutated original: %q", v)
	}
}

func TestSessionState_CloneIsolatesHistoryAndConfidence(t *testing.T) {
	now := time.Now()
	s := NewSessionState("s1", UserContext{}, now, time.Hour)
	s.Append(RoleUser, "hello", now)
	s.Confidence[FieldProblem] = 0.8

	c := s.Clone()
	c.Append(RoleAssistant, "hi", now)
	c.Confidence[FieldProblem] = 0.1

	if len(s.MessageHistory) != 1 {
		t.Errorf("expected original history length 1, got %d", len(s.MessageHistory))
	}
	if s.Confidence[FieldProblem] != 0.8 {
		t.Errorf("expected original confidence 0.8, got %v", s.Confidence[FieldProblem])
	}
}

func TestSessionState_RecentUserMessagesOrder(t *testing.T) {
	now := time.Now()
	s := NewSessionState("s1", UserContext{}, now, time.Hour)
	for _, m := range []string{"a", "b", "c"} {
		s.Append(RoleUser, m, now)
		s.Append(RoleAssistant, "ok", now)
	}
	got := strings.Join(s.RecentUserMessages(2), ",")
	if got != "b,c" {
		t.Errorf("expected 'b,c', got %q", got)
	}
}

func TestSessionState_IsExpired(t *testing.T) {
	now := time.Now()
	s := NewSessionState("s1", UserContext{}, now, time.Minute)
	if s.IsExpired(now) {
		t.Error("fresh session should not be expired")
	}
	if !s.IsExpired(now.Add(2 * time.Minute)) {
		t.Error("session should be expired after ttl")
	}
}

func TestMessageRequest_Validate(t *testing.T) {
	cases := []struct {
		msg     string
		wantErr bool
	}{
		{"", true},
		{"   ", true},
		{strings.Repeat("x", MaxMessageLength+1), true},
		{"my vpn is down", false},
	}
	for _, tc := range cases {
		req := MessageRequest{Message: tc.msg}
		err := req.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("Validate(%q) error=%v, wantErr=%v", tc.msg, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	}
}

func TestSubmissionBlockedError_Is(t *testing.T) {
	err := error(&SubmissionBlockedError{Field: FieldAffectedSystem, Reason: "missing"})
	if !errors.Is(err, ErrSubmissionBlocked) {
		t.Error("expected errors.Is to match ErrSubmissionBlocked")
	}
	var sbe *SubmissionBlockedError
	if !errors.As(err, &sbe) || sbe.Field != FieldAffectedSystem {
		t.Errorf("expected field affectedSystem, got %+v", sbe)
	}
}
