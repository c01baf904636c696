// Package intent classifies the purpose of each user message.
//
// Classification is a cascade: deterministic rules first, then an optional semantic
// classifier, then a keyword heuristic when the semantic result is missing or weak.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// DefaultSemanticThreshold is the minimum confidence accepted from the semantic tier.
const DefaultSemanticThreshold = 0.6

// Context is the conversation state visible to the classifier.
type Context struct {
	State              models.ConversationState
	LastBotQuestion    string
	LastExpectedField  models.FieldName
	RecentUserMessages []string // prior user messages, oldest first, excluding the current one
	TurnCount          int
}

// Semantic is a pluggable intent capability.
type Semantic interface {
	ClassifyIntent(ctx context.Context, message string, c Context) (models.IntentResult, error)
}

// Opts holds classifier configuration.
type Opts struct {
	SemanticThreshold float64
}

// Option configures a Classifier.
type Option func(*Opts)

// WithSemanticThreshold overrides the acceptance threshold of the semantic tier.
func WithSemanticThreshold(t float64) Option {
	return func(o *Opts) {
		o.SemanticThreshold = t
	}
}

// Classifier runs the intent cascade.
type Classifier struct {
	semantic  Semantic
	threshold float64
}

// NewClassifier creates a Classifier. semantic may be nil.
func NewClassifier(semantic Semantic, opts ...Option) *Classifier {
	o := Opts{SemanticThreshold: DefaultSemanticThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	return &Classifier{semantic: semantic, threshold: o.SemanticThreshold}
}

// Classify never fails: capability errors degrade to the heuristic tier.
func (c *Classifier) Classify(ctx context.Context, message string, cc Context) models.IntentResult {
	msg := strings.TrimSpace(message)
	for _, r := range rules {
		if res, ok := r.fn(msg, cc); ok {
			res.Rule = r.name
			slog.Debug("Classifier.Classify: rule matched", "rule", r.name, "intent", res.Intent)
			return res
		}
	}

	if c.semantic != nil {
		res, err := c.semantic.ClassifyIntent(ctx, msg, cc)
		switch {
		case err != nil:
			slog.Warn("Classifier.Classify: semantic classifier failed, using heuristic", "error", err)
		case res.Confidence < c.threshold:
			slog.Debug("Classifier.Classify: semantic result below threshold", "intent", res.Intent, "confidence", res.Confidence)
		default:
			res.Source = models.IntentSourceSemantic
			if res.Intent == models.IntentConfirmSubmit && !inConfirmationPhase(cc.State) {
				// Approval must come from an explicit phrase, not a model guess.
				res.Intent = models.IntentProvideInfo
			}
			return res
		}
	}

	res := heuristic(msg)
	slog.Debug("Classifier.Classify: heuristic fallback", "intent", res.Intent)
	return res
}
