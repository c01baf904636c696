// Package models defines the core data structures for IntakeDesk.
//
// It includes the intake fields, conversation states, intents, security decisions and the
// per-conversation session aggregate shared across modules.
package models

import (
	"strings"
)

// Category classifies the kind of support issue.
type Category string

const (
	CategoryPassword Category = "password"
	CategoryHardware Category = "hardware"
	CategorySoftware Category = "software"
	CategoryNetwork  Category = "network"
	CategoryEmail    Category = "email"
	CategoryOther    Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryPassword, CategoryHardware, CategorySoftware, CategoryNetwork, CategoryEmail, CategoryOther}

// ParseCategory validates s against the closed category set. Invalid values are rejected, never coerced.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Categories {
		if c == valid {
			return c, true
		}
	}
	return "", false
}

// Urgency describes how badly the issue blocks the user.
type Urgency string

const (
	UrgencyBlocked Urgency = "blocked"
	UrgencyHigh    Urgency = "high"
	UrgencyMedium  Urgency = "medium"
	UrgencyLow     Urgency = "low"
)

// Urgencies lists every valid urgency from most to least severe.
var Urgencies = []Urgency{UrgencyBlocked, UrgencyHigh, UrgencyMedium, UrgencyLow}

// ParseUrgency validates s against the closed urgency set.
func ParseUrgency(s string) (Urgency, bool) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Urgencies {
		if u == valid {
			return u, true
		}
	}
	return "", false
}

// FieldName identifies one intake field.
type FieldName string

const (
	FieldProblem        FieldName = "problem"
	FieldCategory       FieldName = "category"
	FieldUrgency        FieldName = "urgency"
	FieldAffectedSystem FieldName = "affectedSystem"
	FieldErrorText      FieldName = "errorText"
)

// AllFields lists the intake fields in the order they are normally asked for.
var AllFields = []FieldName{FieldProblem, FieldCategory, FieldUrgency, FieldAffectedSystem, FieldErrorText}

// IsValid reports whether f names a known intake field.
func (f FieldName) IsValid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// NoErrorProvided marks errorText as explicitly "none", as opposed to nil which means unset.
const NoErrorProvided = "no error provided"

// IntakeFields holds the structured description of a support issue. A nil field is unset.
type IntakeFields struct {
	Problem        *string   `json:"problem"`
	Category       *Category `json:"category"`
	Urgency        *Urgency  `json:"urgency"`
	AffectedSystem *string   `json:"affectedSystem"`
	ErrorText      *string   `json:"errorText"`
}

// Get returns the string form of a field and whether it is set.
func (in IntakeFields) Get(f FieldName) (string, bool) {
	switch f {
	case FieldProblem:
		if in.Problem != nil {
			return *in.Problem, true
		}
	case FieldCategory:
		if in.Category != nil {
			return string(*in.Category), true
		}
	case FieldUrgency:
		if in.Urgency != nil {
			return string(*in.Urgency), true
		}
	case FieldAffectedSystem:
		if in.AffectedSystem != nil {
			return *in.AffectedSystem, true
		}
	case FieldErrorText:
		if in.ErrorText != nil {
			return *in.ErrorText, true
		}
	}
	return "", false
}

// Has reports whether a field is set.
func (in IntakeFields) Has(f FieldName) bool {
	_, ok := in.Get(f)
	return ok
}

// Set assigns a field from its string form. Enum fields are validated and an invalid
// value leaves the field untouched and returns false.
func (in *IntakeFields) Set(f FieldName, value string) bool {
	switch f {
	case FieldProblem:
		in.Problem = &value
	case FieldCategory:
		c, ok := ParseCategory(value)
		if !ok {
			return false
		}
		in.Category = &c
	case FieldUrgency:
		u, ok := ParseUrgency(value)
		if !ok {
			return false
		}
		in.Urgency = &u
	case FieldAffectedSystem:
		in.AffectedSystem = &value
	case FieldErrorText:
		in.ErrorText = &value
	default:
		return false
	}
	return true
}

// Clear unsets a field.
func (in *IntakeFields) Clear(f FieldName) {
	switch f {
	case FieldProblem:
		in.Problem = nil
	case FieldCategory:
		in.Category = nil
	case FieldUrgency:
		in.Urgency = nil
	case FieldAffectedSystem:
		in.AffectedSystem = nil
	case FieldErrorText:
		in.ErrorText = nil
	}
}

// Clone returns a deep copy so that a turn can be rolled back by discarding it.
func (in IntakeFields) Clone() IntakeFields {
	var out IntakeFields
	for _, f := range AllFields {
		if v, ok := in.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}

// Equal reports whether both intakes hold the same values.
func (in IntakeFields) Equal(other IntakeFields) bool {
	for _, f := range AllFields {
		a, okA := in.Get(f)
		b, okB := other.Get(f)
		if okA != okB || a != b {
			return false
		}
	}
	return true
}

// ConfidenceMap maps a field to its extraction confidence in [0,1].
type ConfidenceMap map[FieldName]float64

// Clone returns a copy of the map. A nil map clones to an empty map.
func (c ConfidenceMap) Clone() ConfidenceMap {
	out := make(ConfidenceMap, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Get returns the confidence for a field, zero when unknown.
func (c ConfidenceMap) Get(f FieldName) float64 {
	if c == nil {
		return 0
	}
	return c[f]
}

// FieldCandidate is one proposed value for a field.
type FieldCandidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Candidates holds the proposed values of one extraction pass, keyed by field.
type Candidates map[FieldName]FieldCandidate

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
