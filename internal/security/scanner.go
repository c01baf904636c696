// Package security screens inbound chat messages for credential sharing.
//
// The scanner is deterministic and fail-closed: sharing language it cannot attribute to a safe
// context is blocked. Blocked text must never reach the transcript or the logs.
package security

import (
	"log/slog"
	"regexp"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Context is what the scanner may know about the conversation at the time of a message.
type Context struct {
	ConversationState models.ConversationState
	LastBotMessage    string
	LastExpectedField models.FieldName
	Intake            models.IntakeFields
}

// literalPattern is a credential that appears verbatim in the message.
type literalPattern struct {
	label string
	re    *regexp.Regexp
}

var literalPatterns = []literalPattern{
	{"password_assignment", regexp.MustCompile(`(?i)\b(pass(word)?|pwd|passwd)\s*[:=]\s*\S+`)},
	{"password_value", regexp.MustCompile(`(?i)\bpassword\s+is\s+["']?\S*[0-9!@#$%^&*]\S*`)},
	{"pin", regexp.MustCompile(`(?i)\bpin\s*(code)?\s*(is|[:=])?\s*\d{4,8}\b`)},
	{"mfa_code", regexp.MustCompile(`(?i)\b(mfa|2fa|otp|verification|authenticator|one[- ]time)\s*(code|pin|token)?\s*(is|[:=])?\s*\d{4,8}\b`)},
	{"api_key", regexp.MustCompile(`(?i)\b(api[_ -]?key|secret[_ -]?key|access[_ -]?token|bearer)\s*(is|[:=])?\s*[A-Za-z0-9_\-\.]{16,}`)},
	{"key_prefix", regexp.MustCompile(`\b(sk-[A-Za-z0-9]{16,}|AKIA[0-9A-Z]{16}|ghp_[A-Za-z0-9]{20,}|xox[abp]-[A-Za-z0-9-]{10,})`)},
	{"credit_card", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

var (
	credentialKeyword = regexp.MustCompile(`(?i)\b(password|passwd|passcode|pin|mfa code|2fa code|otp|one[- ]time code|verification code|api key|secret key|access token|credentials?|login details|ssn|social security|credit card|card number)\b`)
	sharingVerb       = regexp.MustCompile(`(?i)\b(share|send|give|tell you|paste|post|provide|dm)\b`)
	sharingLanguage   = regexp.MustCompile(`(?i)\b(i('ll| will| can| could| am going to|'m going to| want to)?|can i|could i|should i|may i|shall i|let me)\s+(share|send|give|paste|post|provide|forward|upload|attach)\s+(you|it|this|that|them|my|over|here)\b`)
	safeKeyword       = regexp.MustCompile(`(?i)\b(error|errors|log|logs|screenshot|screen ?shot|message|code \d{3}|stack ?trace|output|popup|pop-up|warning)\b`)
)

// Scanner classifies one message as PASS, SAFE or BLOCK.
type Scanner struct{}

// NewScanner returns a Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan evaluates message in priority order; the first matching rule wins.
func (s *Scanner) Scan(message string, ctx Context) models.SecurityDecision {
	for _, p := range literalPatterns {
		if p.re.MatchString(message) {
			slog.Warn("Scanner.Scan: literal credential pattern", "label", p.label, "length", len(message))
			return models.SecurityDecision{
				Decision:    models.SecurityBlock,
				PatternType: models.PatternLiteral,
				Label:       p.label,
				Message:     literalBlockMessage,
			}
		}
	}

	hasCredential := credentialKeyword.MatchString(message)
	if hasCredential && sharingVerb.MatchString(message) && !isAskingAboutReset(message) {
		slog.Warn("Scanner.Scan: high-risk sharing intent", "length", len(message))
		return models.SecurityDecision{
			Decision:    models.SecurityBlock,
			PatternType: models.PatternHighRiskIntent,
			Message:     intentBlockMessage,
		}
	}

	if sharingLanguage.MatchString(message) {
		if hasCredential {
			return models.SecurityDecision{
				Decision:    models.SecurityBlock,
				PatternType: models.PatternAmbiguousSharing,
				Message:     intentBlockMessage,
			}
		}
		safeMention := safeKeyword.MatchString(message) || safeKeyword.MatchString(ctx.LastBotMessage)
		discussingErrors := ctx.LastExpectedField == models.FieldErrorText || !ctx.Intake.Has(models.FieldErrorText)
		if safeMention && discussingErrors {
			slog.Debug("Scanner.Scan: sharing language in safe context")
			return models.SecurityDecision{
				Decision:    models.SecuritySafe,
				PatternType: models.PatternSafeContext,
			}
		}
		slog.Warn("Scanner.Scan: ambiguous sharing language", "length", len(message))
		return models.SecurityDecision{
			Decision:    models.SecurityBlock,
			PatternType: models.PatternAmbiguousSharing,
			Message:     ambiguousBlockMessage,
		}
	}

	return models.SecurityDecision{Decision: models.SecurityPass, PatternType: models.PatternNone}
}

var (
	resetQuestion = regexp.MustCompile(`(?i)\b(reset|forgot|forgotten|change|expired|locked out|recover)\b`)
	askingBot     = regexp.MustCompile(`(?i)\b((send|give|email|text|get|share with)\s+me|(can|could|would|will)\s+you\s+(send|give|share|email|provide|reset))\b`)
	userOffer     = regexp.MustCompile(`(?i)\b(i|i'll|i will|i can|i could|i'd|i would|i'm going to|i am going to|let me)\s+(share|send|give|tell you|paste|post|provide|dm)\b|\bhere('s| is)\s+(my|the)\b`)
)

// isAskingAboutReset keeps "can you send me a password reset link" from being treated as
// sharing. The request must point at the bot; any offer by the user to hand something over
// still reaches the sharing rules.
func isAskingAboutReset(message string) bool {
	return resetQuestion.MatchString(message) && askingBot.MatchString(message) && !userOffer.MatchString(message)
}

const (
	literalBlockMessage   = "For your security, please don't share passwords, codes, keys or card numbers here. I didn't save that message. Please reply \"ok\" or \"understood\" to continue."
	intentBlockMessage    = "Please don't share credentials in this chat. The helpdesk will never ask for your password or verification codes. Reply \"ok\" or \"understood\" to continue."
	ambiguousBlockMessage = "I can't accept shared files or details here unless they're error messages or logs. Please don't send passwords or codes. Reply \"ok\" or \"understood\" to continue."
)
