// Package extract proposes candidate intake values for the fields a turn asks for.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Request describes one extraction pass.
type Request struct {
	Message           string
	Intake            models.IntakeFields
	Fields            []models.FieldName
	LastBotQuestion   string
	LastExpectedField models.FieldName
	Summary           string
}

// Wants reports whether f was requested.
func (r Request) Wants(f models.FieldName) bool {
	for _, want := range r.Fields {
		if want == f {
			return true
		}
	}
	return false
}

// Extractor proposes candidate values.
type Extractor interface {
	Extract(ctx context.Context, req Request) (models.Candidates, error)
}

// Validate drops candidates for unrequested fields, empty values and enum values outside their
// closed sets. Surviving confidences are clamped to [0,1].
func Validate(req Request, cands models.Candidates) models.Candidates {
	out := make(models.Candidates, len(cands))
	for f, c := range cands {
		if !f.IsValid() || !req.Wants(f) {
			slog.Debug("extract.Validate: dropping unrequested field", "field", f)
			continue
		}
		v := strings.TrimSpace(c.Value)
		if v == "" {
			continue
		}
		switch f {
		case models.FieldCategory:
			cat, ok := models.ParseCategory(v)
			if !ok {
				slog.Debug("extract.Validate: dropping invalid category", "value", v)
				continue
			}
			v = string(cat)
		case models.FieldUrgency:
			u, ok := models.ParseUrgency(v)
			if !ok {
				slog.Debug("extract.Validate: dropping invalid urgency", "value", v)
				continue
			}
			v = string(u)
		}
		out[f] = models.FieldCandidate{Value: v, Confidence: models.ClampConfidence(c.Confidence)}
	}
	return out
}

// Cascade tries a semantic extractor first and fills the gaps with rules. Without a semantic
// extractor, or when it fails, only the rules run.
type Cascade struct {
	semantic Extractor
	rules    *RuleExtractor
}

// NewCascade builds a Cascade. semantic may be nil.
func NewCascade(semantic Extractor, rules *RuleExtractor) *Cascade {
	if rules == nil {
		rules = NewRuleExtractor()
	}
	return &Cascade{semantic: semantic, rules: rules}
}

// Extract implements Extractor. It never returns an error; capability failures degrade to rules.
func (c *Cascade) Extract(ctx context.Context, req Request) (models.Candidates, error) {
	if len(req.Fields) == 0 {
		return models.Candidates{}, nil
	}
	ruleCands, _ := c.rules.Extract(ctx, req)
	if c.semantic == nil {
		return ruleCands, nil
	}

	semCands, err := c.semantic.Extract(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrMalformedCapabilityResponse) {
			slog.Warn("Cascade.Extract: malformed semantic response, using rules", "error", err)
		} else {
			slog.Warn("Cascade.Extract: semantic extractor unavailable, using rules", "error", err)
		}
		return ruleCands, nil
	}
	merged := Validate(req, semCands)
	for f, rc := range ruleCands {
		if sc, ok := merged[f]; !ok || rc.Confidence > sc.Confidence+0.2 {
			merged[f] = rc
		}
	}
	slog.Debug("Cascade.Extract: combined candidates", "semantic", len(semCands), "rules", len(ruleCands), "total", len(merged))
	return merged, nil
}
