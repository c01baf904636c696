package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Summarizer writes a short ticket description from the collected intake and transcript.
type Summarizer interface {
	Summarize(ctx context.Context, in models.IntakeFields, history []models.Message) (string, error)
}

var fieldLabels = map[models.FieldName]string{
	models.FieldProblem:        "Problem",
	models.FieldCategory:       "Category",
	models.FieldUrgency:        "Urgency",
	models.FieldAffectedSystem: "Affected system",
	models.FieldErrorText:      "Error message",
}

var missingDescriptions = map[models.FieldName]string{
	models.FieldProblem:        "a short description of the problem",
	models.FieldCategory:       "the kind of issue",
	models.FieldUrgency:        "how urgent this is",
	models.FieldAffectedSystem: "which system is affected",
	models.FieldErrorText:      "the exact error message (or \"none\")",
}

// BuildSummary renders the collected fields, one per line, in asking order.
func BuildSummary(in models.IntakeFields) string {
	var b strings.Builder
	for _, f := range models.AllFields {
		v, ok := in.Get(f)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", fieldLabels[f], v)
	}
	return b.String()
}

// ticketSummary prefers the semantic summary and falls back to the field list.
func ticketSummary(ctx context.Context, sum Summarizer, s *models.SessionState) string {
	fallback := BuildSummary(s.Intake)
	if sum == nil {
		return fallback
	}
	text, err := sum.Summarize(ctx, s.Intake, s.MessageHistory)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		slog.Warn("flow: semantic summary unavailable, using field summary", "sessionID", s.SessionID, "error", err)
		return fallback
	}
	return text + "\n\n" + fallback
}
