package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

func TestScan_LiteralCredentialsBlock(t *testing.T) {
	s := NewScanner()
	cases := []struct {
		name, msg, label string
	}{
		{"assignment", "password=Hunter2!", "password_assignment"},
		{"colon", "pwd: abc123", "password_assignment"},
		{"value", "my password is Summer2024", "password_value"},
		{"pin", "my pin is 4821", "pin"},
		{"mfa", "the MFA code is 551234", "mfa_code"},
		{"apikey", "api key: abcd1234efgh5678ijkl", "api_key"},
		{"openai key", "try sk-ABCDEFGHIJKLMNOPQRST", "key_prefix"},
		{"card", "card 4111 1111 1111 1111 was charged", "credit_card"},
		{"ssn", "ssn 123-45-6789", "ssn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := s.Scan(tc.msg, Context{})
			assert.Equal(t, models.SecurityBlock, d.Decision)
			assert.Equal(t, models.PatternLiteral, d.PatternType)
			assert.Equal(t, tc.label, d.Label)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestScan_HighRiskIntentBlocks(t *testing.T) {
	d := NewScanner().Scan("I will share my password with you", Context{})
	assert.Equal(t, models.SecurityBlock, d.Decision)
	assert.Equal(t, models.PatternHighRiskIntent, d.PatternType)
}

func TestScan_ResetLinkRequestPasses(t *testing.T) {
	d := NewScanner().Scan("can you send me a password reset link?", Context{})
	assert.Equal(t, models.SecurityPass, d.Decision)
}

func TestScan_ResetRequests(t *testing.T) {
	s := NewScanner()
	cases := []struct {
		msg  string
		want models.SecurityDecisionType
	}{
		{"I forgot my password, could you send me a reset link", models.SecurityPass},
		{"my password expired, can you reset it?", models.SecurityPass},
		{"I had to reset my password, I can tell you the new password", models.SecurityBlock},
		{"I forgot my password, can you reset it? I can send you the new one", models.SecurityBlock},
		{"after the reset I'll give you my new password", models.SecurityBlock},
		{"I changed my password, let me share it", models.SecurityBlock},
		{"password recovered, I'll paste the new one here", models.SecurityBlock},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			d := s.Scan(tc.msg, Context{})
			assert.Equal(t, tc.want, d.Decision)
			if tc.want == models.SecurityBlock {
				assert.NotEmpty(t, d.Message)
			}
		})
	}
}

func TestScan_SharingErrorLogIsSafeWhileDiscussingErrors(t *testing.T) {
	ctx := Context{LastExpectedField: models.FieldErrorText, LastBotMessage: "What error message do you see?"}
	d := NewScanner().Scan("I'll send you the log from the app", ctx)
	assert.Equal(t, models.SecuritySafe, d.Decision)
	assert.Equal(t, models.PatternSafeContext, d.PatternType)
}

func TestScan_AmbiguousSharingFailsClosed(t *testing.T) {
	var intake models.IntakeFields
	intake.Set(models.FieldErrorText, "0x80070005")
	d := NewScanner().Scan("can I send you this?", Context{Intake: intake})
	assert.Equal(t, models.SecurityBlock, d.Decision)
	assert.Equal(t, models.PatternAmbiguousSharing, d.PatternType)
}

func TestScan_SharingWithCredentialKeywordBlocks(t *testing.T) {
	ctx := Context{LastExpectedField: models.FieldErrorText}
	d := NewScanner().Scan("should I forward my login details", ctx)
	assert.Equal(t, models.SecurityBlock, d.Decision)
}

func TestScan_OrdinaryMessagesPass(t *testing.T) {
	s := NewScanner()
	for _, msg := range []string{
		"I can't log into Outlook, it's urgent, error says 'invalid credentials'",
		"I can't send emails since this morning",
		"my password expired and I'm locked out",
		"the vpn keeps dropping",
	} {
		d := s.Scan(msg, Context{})
		assert.Equal(t, models.SecurityPass, d.Decision, msg)
		assert.Equal(t, models.PatternNone, d.PatternType, msg)
	}
}

func TestIsAcknowledgment(t *testing.T) {
	for _, msg := range []string{"ok", "Okay, sorry", "understood", "got it thanks", "I won't share it"} {
		assert.True(t, IsAcknowledgment(msg), msg)
	}
	for _, msg := range []string{"", "my laptop is broken", "what?"} {
		assert.False(t, IsAcknowledgment(msg), msg)
	}
}
