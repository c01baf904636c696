package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// KnownSystems maps a lowercase mention to the canonical system name.
var KnownSystems = []struct {
	pattern   *regexp.Regexp
	canonical string
}{
	{regexp.MustCompile(`(?i)\boutlook\b`), "Outlook"},
	{regexp.MustCompile(`(?i)\b(ms |microsoft )?teams\b`), "Teams"},
	{regexp.MustCompile(`(?i)\bzoom\b`), "Zoom"},
	{regexp.MustCompile(`(?i)\bslack\b`), "Slack"},
	{regexp.MustCompile(`(?i)\bvpn\b`), "VPN"},
	{regexp.MustCompile(`(?i)\bwi-?fi\b`), "Wi-Fi"},
	{regexp.MustCompile(`(?i)\bexcel\b`), "Excel"},
	{regexp.MustCompile(`(?i)\b(ms |microsoft )?word\b`), "Word"},
	{regexp.MustCompile(`(?i)\bsharepoint\b`), "SharePoint"},
	{regexp.MustCompile(`(?i)\bone ?drive\b`), "OneDrive"},
	{regexp.MustCompile(`(?i)\bgmail\b`), "Gmail"},
	{regexp.MustCompile(`(?i)\bchrome\b`), "Chrome"},
	{regexp.MustCompile(`(?i)\bsalesforce\b`), "Salesforce"},
	{regexp.MustCompile(`(?i)\bjira\b`), "Jira"},
	{regexp.MustCompile(`(?i)\bsap\b`), "SAP"},
	{regexp.MustCompile(`(?i)\bokta\b`), "Okta"},
	{regexp.MustCompile(`(?i)\bwindows\b`), "Windows"},
	{regexp.MustCompile(`(?i)\b(macos|macbook|mac)\b`), "Mac"},
	{regexp.MustCompile(`(?i)\blaptop\b`), "Laptop"},
	{regexp.MustCompile(`(?i)\bprinter\b`), "Printer"},
	{regexp.MustCompile(`(?i)\bmonitor\b`), "Monitor"},
}

var (
	urgencyPatterns = []struct {
		urgency models.Urgency
		re      *regexp.Regexp
	}{
		{models.UrgencyLow, regexp.MustCompile(`(?i)\b(not urgent|no rush|whenever|not a big deal|low priority|can wait|minor)\b`)},
		{models.UrgencyBlocked, regexp.MustCompile(`(?i)\b(can'?t work|cannot work|unable to work|completely (stuck|blocked)|blocked|can'?t do anything|nobody can work|down for everyone)\b`)},
		{models.UrgencyHigh, regexp.MustCompile(`(?i)\b(urgent|urgently|asap|critical|emergency|immediately|high priority|right away|deadline)\b`)},
		{models.UrgencyMedium, regexp.MustCompile(`(?i)\b(medium|moderate|soon|sometime today|annoying)\b`)},
	}
	bareUrgency = regexp.MustCompile(`(?i)^\s*(it'?s\s+)?(blocked|high|medium|low|urgent)\s*[.!]?\s*$`)

	quotedError = regexp.MustCompile(`(?i)\b(error|message|says|said|shows|showing|displays|reads|popup|code)\b[^"'“‘]{0,30}["'“‘]([^"'”’]{2,200})["'”’]`)
	errorCode   = regexp.MustCompile(`(?i)\b(0x[0-9a-f]{4,}|error\s*(code)?\s*[:#]?\s*[a-z]*-?\d{2,}|[A-Z]{2,5}-\d{2,6})\b`)
	noError     = regexp.MustCompile(`(?i)\b(no error|no errors|no error message|there'?s no (error|message)|nothing (shows|appears|pops up)|doesn'?t show (an|any) error|no message)\b`)
	dontKnow    = regexp.MustCompile(`(?i)\b(i )?(don'?t|do not) know\b|\bnot sure\b|\bno idea\b`)

	problemCue       = regexp.MustCompile(`(?i)\b(can'?t|cannot|won'?t|unable|not working|doesn'?t|isn'?t|broken|error|fail(s|ed|ing)?|issue|problem|slow|crash(es|ed|ing)?|stuck|keeps|stopped|missing|lost|locked)\b`)
	sentenceBoundary = regexp.MustCompile(`[.!?\n]`)

	explicitCategory = regexp.MustCompile(`(?i)\b(password|hardware|software|network|email)\s+(issue|problem|question|thing)\b`)
)

// RuleExtractor is the deterministic extractor that is always available.
type RuleExtractor struct{}

// NewRuleExtractor returns a RuleExtractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract implements Extractor.
func (r *RuleExtractor) Extract(_ context.Context, req Request) (models.Candidates, error) {
	out := models.Candidates{}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return out, nil
	}
	extractors := map[models.FieldName]func(Request, string) (models.FieldCandidate, bool){
		models.FieldProblem:        extractProblem,
		models.FieldCategory:       extractCategory,
		models.FieldUrgency:        extractUrgency,
		models.FieldAffectedSystem: extractAffectedSystem,
		models.FieldErrorText:      extractErrorText,
	}
	for _, f := range req.Fields {
		fn, ok := extractors[f]
		if !ok {
			continue
		}
		if c, ok := fn(req, msg); ok {
			out[f] = c
		}
	}
	return Validate(req, out), nil
}

func extractProblem(req Request, msg string) (models.FieldCandidate, bool) {
	if dontKnow.MatchString(msg) && len(strings.Fields(msg)) < 6 {
		return models.FieldCandidate{}, false
	}
	first := msg
	if loc := sentenceBoundary.FindStringIndex(msg); loc != nil && loc[0] > 0 {
		first = msg[:loc[0]]
	}
	if i := strings.Index(first, ","); i > 0 && len(strings.Fields(first[:i])) >= 3 {
		first = first[:i]
	}
	first = strings.TrimSpace(first)
	if len(first) > 200 {
		first = first[:200]
	}
	words := len(strings.Fields(first))
	asked := req.LastExpectedField == models.FieldProblem
	switch {
	case words >= 3 && problemCue.MatchString(first):
		return models.FieldCandidate{Value: first, Confidence: 0.75}, true
	case asked && words >= 2:
		return models.FieldCandidate{Value: first, Confidence: 0.8}, true
	case words >= 5:
		return models.FieldCandidate{Value: first, Confidence: 0.55}, true
	}
	return models.FieldCandidate{}, false
}

func extractCategory(req Request, msg string) (models.FieldCandidate, bool) {
	if req.LastExpectedField == models.FieldCategory {
		word := strings.Trim(strings.ToLower(msg), " .!")
		word = strings.TrimPrefix(word, "it's ")
		word = strings.TrimPrefix(word, "its ")
		word = strings.TrimSuffix(word, " issue")
		word = strings.TrimSuffix(word, " problem")
		if c, ok := models.ParseCategory(word); ok {
			return models.FieldCandidate{Value: string(c), Confidence: 0.9}, true
		}
	}
	if m := explicitCategory.FindStringSubmatch(msg); m != nil {
		return models.FieldCandidate{Value: strings.ToLower(m[1]), Confidence: 0.85}, true
	}
	return models.FieldCandidate{}, false
}

func extractUrgency(req Request, msg string) (models.FieldCandidate, bool) {
	if u, ok := intake.ExplicitUrgency(msg); ok {
		return models.FieldCandidate{Value: string(u), Confidence: 0.95}, true
	}
	if m := bareUrgency.FindStringSubmatch(msg); m != nil && req.LastExpectedField == models.FieldUrgency {
		word := strings.ToLower(m[2])
		if word == "urgent" {
			word = string(models.UrgencyHigh)
		}
		return models.FieldCandidate{Value: word, Confidence: 0.9}, true
	}
	for _, p := range urgencyPatterns {
		if p.re.MatchString(msg) {
			return models.FieldCandidate{Value: string(p.urgency), Confidence: 0.8}, true
		}
	}
	return models.FieldCandidate{}, false
}

func extractAffectedSystem(req Request, msg string) (models.FieldCandidate, bool) {
	var found []string
	for _, s := range KnownSystems {
		if s.pattern.MatchString(msg) {
			found = append(found, s.canonical)
		}
	}
	if len(found) > 0 {
		return models.FieldCandidate{Value: strings.Join(found, ", "), Confidence: 0.8}, true
	}
	if req.LastExpectedField == models.FieldAffectedSystem && !dontKnow.MatchString(msg) && len(strings.Fields(msg)) <= 6 {
		return models.FieldCandidate{Value: strings.Trim(msg, " .!"), Confidence: 0.7}, true
	}
	return models.FieldCandidate{}, false
}

func extractErrorText(req Request, msg string) (models.FieldCandidate, bool) {
	if m := quotedError.FindStringSubmatch(msg); m != nil {
		return models.FieldCandidate{Value: strings.TrimSpace(m[2]), Confidence: 0.9}, true
	}
	if noError.MatchString(msg) {
		return models.FieldCandidate{Value: models.NoErrorProvided, Confidence: 0.85}, true
	}
	if m := errorCode.FindString(msg); m != "" {
		return models.FieldCandidate{Value: strings.TrimSpace(m), Confidence: 0.8}, true
	}
	if req.LastExpectedField == models.FieldErrorText {
		lower := strings.ToLower(strings.Trim(msg, " .!"))
		if lower == "no" || lower == "none" || lower == "nope" || lower == "nothing" {
			return models.FieldCandidate{Value: models.NoErrorProvided, Confidence: 0.8}, true
		}
		if dontKnow.MatchString(msg) {
			return models.FieldCandidate{Value: models.NoErrorProvided, Confidence: 0.7}, true
		}
		return models.FieldCandidate{Value: strings.TrimSpace(msg), Confidence: 0.7}, true
	}
	return models.FieldCandidate{}, false
}
