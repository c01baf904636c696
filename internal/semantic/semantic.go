// Package semantic adapts the genai client to the pluggable capabilities of the intake
// pipeline. Every adapter validates model output against the closed vocabularies and reports
// anything else as models.ErrMalformedCapabilityResponse, so callers fall back to rules.
package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/brain"
	"github.com/BTreeMap/IntakeDesk/internal/extract"
	"github.com/BTreeMap/IntakeDesk/internal/flow"
	"github.com/BTreeMap/IntakeDesk/internal/genai"
	"github.com/BTreeMap/IntakeDesk/internal/intent"
	"github.com/BTreeMap/IntakeDesk/internal/models"
)

var (
	_ intent.Semantic   = (*IntentClassifier)(nil)
	_ extract.Extractor = (*FieldExtractor)(nil)
	_ brain.Semantic    = (*Reasoner)(nil)
	_ flow.Summarizer   = (*Summarizer)(nil)
)

// IntentClassifier asks the model for one of the closed intents.
type IntentClassifier struct {
	client genai.ClientInterface
}

// NewIntentClassifier creates an IntentClassifier.
func NewIntentClassifier(client genai.ClientInterface) *IntentClassifier {
	return &IntentClassifier{client: client}
}

type intentInput struct {
	Message            string   `json:"message"`
	State              string   `json:"conversationState"`
	LastBotQuestion    string   `json:"lastBotQuestion,omitempty"`
	LastExpectedField  string   `json:"lastExpectedField,omitempty"`
	RecentUserMessages []string `json:"recentUserMessages,omitempty"`
}

type intentOutput struct {
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	IsCorrection bool    `json:"isCorrection"`
	IsResume     bool    `json:"isResume"`
	IsConfusion  bool    `json:"isConfusion"`
}

// ClassifyIntent implements intent.Semantic.
func (c *IntentClassifier) ClassifyIntent(ctx context.Context, message string, cc intent.Context) (models.IntentResult, error) {
	var out intentOutput
	err := c.client.GenerateJSON(ctx, intentPrompt, intentInput{
		Message:            message,
		State:              string(cc.State),
		LastBotQuestion:    cc.LastBotQuestion,
		LastExpectedField:  string(cc.LastExpectedField),
		RecentUserMessages: cc.RecentUserMessages,
	}, &out)
	if err != nil {
		return models.IntentResult{}, err
	}
	i, ok := models.ParseIntent(strings.ToUpper(strings.TrimSpace(out.Intent)))
	if !ok {
		return models.IntentResult{}, fmt.Errorf("%w: unknown intent %q", models.ErrMalformedCapabilityResponse, out.Intent)
	}
	return models.IntentResult{
		Intent:       i,
		Confidence:   models.ClampConfidence(out.Confidence),
		IsCorrection: out.IsCorrection,
		IsResume:     out.IsResume,
		IsConfusion:  out.IsConfusion,
	}, nil
}

// FieldExtractor asks the model for candidate values of the requested fields.
type FieldExtractor struct {
	client genai.ClientInterface
}

// NewFieldExtractor creates a FieldExtractor.
func NewFieldExtractor(client genai.ClientInterface) *FieldExtractor {
	return &FieldExtractor{client: client}
}

type extractInput struct {
	Message           string            `json:"message"`
	Fields            []string          `json:"fieldsToExtract"`
	Current           map[string]string `json:"currentIntake,omitempty"`
	LastBotQuestion   string            `json:"lastBotQuestion,omitempty"`
	LastExpectedField string            `json:"lastExpectedField,omitempty"`
}

type candidateOutput struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Extract implements extract.Extractor. Only requested, known fields are returned; enum
// validation happens in the cascade.
func (e *FieldExtractor) Extract(ctx context.Context, req extract.Request) (models.Candidates, error) {
	in := extractInput{
		Message:           req.Message,
		Current:           map[string]string{},
		LastBotQuestion:   req.LastBotQuestion,
		LastExpectedField: string(req.LastExpectedField),
	}
	for _, f := range req.Fields {
		in.Fields = append(in.Fields, string(f))
	}
	for _, f := range models.AllFields {
		if v, ok := req.Intake.Get(f); ok {
			in.Current[string(f)] = v
		}
	}

	var out map[string]candidateOutput
	if err := e.client.GenerateJSON(ctx, extractPrompt, in, &out); err != nil {
		return nil, err
	}
	cands := models.Candidates{}
	for name, c := range out {
		f := models.FieldName(name)
		if !f.IsValid() {
			return nil, fmt.Errorf("%w: unknown field %q", models.ErrMalformedCapabilityResponse, name)
		}
		if c.Value == nil || !req.Wants(f) {
			continue
		}
		cands[f] = models.FieldCandidate{Value: *c.Value, Confidence: models.ClampConfidence(c.Confidence)}
	}
	return cands, nil
}

// Reasoner asks the model for the next conversational move.
type Reasoner struct {
	client genai.ClientInterface
}

// NewReasoner creates a Reasoner.
func NewReasoner(client genai.ClientInterface) *Reasoner {
	return &Reasoner{client: client}
}

type reasonInput struct {
	Message            string   `json:"message"`
	Intent             string   `json:"intent"`
	State              string   `json:"conversationState"`
	Missing            []string `json:"missingFields"`
	LastBotQuestion    string   `json:"lastBotQuestion,omitempty"`
	LastExpectedField  string   `json:"lastExpectedField,omitempty"`
	SubmissionDeclined bool     `json:"submissionDeclined"`
	Summary            string   `json:"intakeSummary,omitempty"`
}

// Decide implements brain.Semantic. The brain package validates the returned decision.
func (r *Reasoner) Decide(ctx context.Context, in brain.Input) (models.BrainDecision, error) {
	req := reasonInput{
		Message:            in.Message,
		Intent:             string(in.Intent.Intent),
		State:              string(in.State),
		LastBotQuestion:    in.LastBotQuestion,
		LastExpectedField:  string(in.LastExpectedField),
		SubmissionDeclined: in.SubmissionDeclined,
		Summary:            in.Summary,
	}
	for _, f := range in.Missing {
		req.Missing = append(req.Missing, string(f))
	}
	var d models.BrainDecision
	if err := r.client.GenerateJSON(ctx, reasonPrompt, req, &d); err != nil {
		return models.BrainDecision{}, err
	}
	return d, nil
}

// Summarizer writes the ticket description.
type Summarizer struct {
	client genai.ClientInterface
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(client genai.ClientInterface) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize implements flow.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, in models.IntakeFields, history []models.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Intake:\n")
	b.WriteString(flow.BuildSummary(in))
	b.WriteString("\n\nConversation:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	text, err := s.client.GeneratePromptWithContext(ctx, summaryPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
