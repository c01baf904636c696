// Package intake holds the category-aware completeness rules and the per-field merge policies
// that fold extracted candidates into a session's accumulated intake.
package intake

import (
	"fmt"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Default thresholds.
const (
	DefaultFieldThreshold      = 0.7
	DefaultPasswordErrorText   = 0.5
	DefaultCategoryProtect     = 0.6
	DefaultUrgencyMaterialGain = 0.15
	DefaultErrorTextSlack      = 0.2
)

// Thresholds configures completeness and merge decisions.
type Thresholds struct {
	Field               float64 `yaml:"field"`
	PasswordErrorText   float64 `yaml:"password_error_text"`
	CategoryProtect     float64 `yaml:"category_protect"`
	UrgencyMaterialGain float64 `yaml:"urgency_material_gain"`
	ErrorTextSlack      float64 `yaml:"error_text_slack"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Field:               DefaultFieldThreshold,
		PasswordErrorText:   DefaultPasswordErrorText,
		CategoryProtect:     DefaultCategoryProtect,
		UrgencyMaterialGain: DefaultUrgencyMaterialGain,
		ErrorTextSlack:      DefaultErrorTextSlack,
	}
}

// Validate ensures every threshold lies in [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"field":                 t.Field,
		"password_error_text":   t.PasswordErrorText,
		"category_protect":      t.CategoryProtect,
		"urgency_material_gain": t.UrgencyMaterialGain,
		"error_text_slack":      t.ErrorTextSlack,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s out of range: %v", name, v)
		}
	}
	return nil
}

var (
	passwordRequired = []models.FieldName{models.FieldProblem, models.FieldUrgency, models.FieldErrorText}
	defaultRequired  = models.AllFields
)

// RequiredFields returns the fields a ticket of the given category must carry. An unknown
// category requires everything, category included.
func RequiredFields(category *models.Category) []models.FieldName {
	if category != nil && *category == models.CategoryPassword {
		return passwordRequired
	}
	return defaultRequired
}

// FieldThreshold returns the minimum confidence for f under category.
func (t Thresholds) FieldThreshold(f models.FieldName, category *models.Category) float64 {
	if f == models.FieldErrorText && category != nil && *category == models.CategoryPassword {
		return t.PasswordErrorText
	}
	return t.Field
}

// MissingFields returns, in asking order, the required fields that are unset or below threshold.
func (t Thresholds) MissingFields(in models.IntakeFields, conf models.ConfidenceMap) []models.FieldName {
	var missing []models.FieldName
	for _, f := range RequiredFields(in.Category) {
		if !in.Has(f) || conf.Get(f) < t.FieldThreshold(f, in.Category) {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete reports whether every required field is collected.
func (t Thresholds) IsComplete(in models.IntakeFields, conf models.ConfidenceMap) bool {
	return len(t.MissingFields(in, conf)) == 0
}

// CheckFieldConfidence returns nil when the intake is submittable, otherwise a
// SubmissionBlockedError naming the first offending field.
func (t Thresholds) CheckFieldConfidence(in models.IntakeFields, conf models.ConfidenceMap) error {
	for _, f := range RequiredFields(in.Category) {
		if !in.Has(f) {
			return &models.SubmissionBlockedError{Field: f, Reason: "missing"}
		}
		if c, min := conf.Get(f), t.FieldThreshold(f, in.Category); c < min {
			return &models.SubmissionBlockedError{Field: f, Reason: fmt.Sprintf("low confidence %.2f < %.2f", c, min)}
		}
	}
	return nil
}
