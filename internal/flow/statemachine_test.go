package flow

import (
	"testing"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

func TestStateMachine_Next(t *testing.T) {
	m := NewStateMachine()
	res := func(i models.Intent) models.IntentResult { return models.IntentResult{Intent: i} }

	tests := []struct {
		name string
		in   TransitionInput
		to   models.ConversationState
		rule string
	}{
		{"submitted is terminal", TransitionInput{From: models.StateSubmitted, Intent: res(models.IntentProvideInfo), Complete: true},
			models.StateSubmitted, RuleSubmittedFinal},
		{"security block holds", TransitionInput{From: models.StateBlockedSecurity, Intent: res(models.IntentConfirmSubmit), Complete: true},
			models.StateBlockedSecurity, RuleSecurityLock},
		{"waiting ignores info", TransitionInput{From: models.StateWaiting, Intent: res(models.IntentProvideInfo), Complete: true},
			models.StateWaiting, RuleWaitingLock},
		{"waiting ignores cancel", TransitionInput{From: models.StateWaiting, Intent: models.IntentResult{Intent: models.IntentDenySubmit, IsCancel: true}},
			models.StateWaiting, RuleWaitingLock},
		{"resume incomplete", TransitionInput{From: models.StateWaiting, Intent: models.IntentResult{Intent: models.IntentProvideInfo, IsResume: true}},
			models.StateProbing, RuleResume},
		{"resume complete", TransitionInput{From: models.StateWaiting, Intent: models.IntentResult{Intent: models.IntentProvideInfo, IsResume: true}, Complete: true},
			models.StateReadyToSubmit, RuleForceReady},
		{"cancel", TransitionInput{From: models.StateReadyToSubmit, Intent: models.IntentResult{Intent: models.IntentDenySubmit, IsCancel: true}, Complete: true},
			models.StateProbing, RuleCancel},
		{"confirm complete", TransitionInput{From: models.StateReadyToSubmit, Intent: res(models.IntentConfirmSubmit), Complete: true},
			models.StateConfirmingSubmission, RuleConfirm},
		{"confirm incomplete", TransitionInput{From: models.StateProbing, Intent: res(models.IntentConfirmSubmit)},
			models.StateProbing, RuleConfirmMissing},
		{"decline", TransitionInput{From: models.StateReadyToSubmit, Intent: res(models.IntentDenySubmit), Complete: true},
			models.StateProbing, RuleDecline},
		{"force ready", TransitionInput{From: models.StateProbing, Intent: res(models.IntentProvideInfo), Complete: true},
			models.StateReadyToSubmit, RuleForceReady},
		{"declined is not forced", TransitionInput{From: models.StateProbing, Intent: res(models.IntentIdle), Complete: true, SubmissionDeclined: true},
			models.StateProbing, RuleStay},
		{"question not forced", TransitionInput{From: models.StateProbing, Intent: res(models.IntentAskQuestion), Complete: true},
			models.StateProbing, RuleStay},
		{"ready protected", TransitionInput{From: models.StateReadyToSubmit, Intent: res(models.IntentProvideInfo), Complete: true},
			models.StateReadyToSubmit, RuleReadyProtected},
		{"ready left on change", TransitionInput{From: models.StateReadyToSubmit, Intent: res(models.IntentAddMoreInfo), Complete: true, FieldsChanged: true},
			models.StateReadyToSubmit, RuleForceReady},
		{"incomplete ready drops", TransitionInput{From: models.StateConfirmingSubmission, Intent: res(models.IntentIdle)},
			models.StateProbing, RuleIncomplete},
		{"frustration clarifies", TransitionInput{From: models.StateProbing, Intent: res(models.IntentFrustration)},
			models.StateClarifying, RuleTable},
		{"confusion clarifies", TransitionInput{From: models.StateProbing, Intent: models.IntentResult{Intent: models.IntentAskQuestion, IsConfusion: true}},
			models.StateClarifying, RuleClarify},
		{"suggested clarify", TransitionInput{From: models.StateProbing, Intent: res(models.IntentIdle), Suggested: models.StateClarifying},
			models.StateClarifying, RuleClarify},
		{"suggested submit ignored", TransitionInput{From: models.StateProbing, Intent: res(models.IntentIdle), Suggested: models.StateSubmitted},
			models.StateProbing, RuleStay},
		{"wait", TransitionInput{From: models.StateProbing, Intent: res(models.IntentInterruptWait), Complete: true},
			models.StateWaiting, RuleTable},
		{"init info", TransitionInput{From: models.StateInit, Intent: res(models.IntentProvideInfo)},
			models.StateProbing, RuleTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Next(tt.in)
			if got.To != tt.to || got.Rule != tt.rule {
				t.Errorf("Next() = %s (%s), want %s (%s)", got.To, got.Rule, tt.to, tt.rule)
			}
		})
	}
}

func TestStateMachine_NeverReachesSubmittedWithoutConfirm(t *testing.T) {
	m := NewStateMachine()
	for _, from := range models.ConversationStates {
		if from == models.StateSubmitted {
			continue
		}
		for _, i := range models.Intents {
			for _, complete := range []bool{false, true} {
				got := m.Next(TransitionInput{From: from, Intent: models.IntentResult{Intent: i}, Complete: complete, Suggested: models.StateSubmitted})
				if got.To == models.StateSubmitted {
					t.Errorf("%s + %s reached SUBMITTED", from, i)
				}
				if got.To == models.StateConfirmingSubmission && i != models.IntentConfirmSubmit {
					t.Errorf("%s + %s reached CONFIRMING without confirmation", from, i)
				}
			}
		}
	}
}
