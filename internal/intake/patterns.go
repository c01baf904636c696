package intake

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

var explicitUrgency = regexp.MustCompile(`(?i)\b(?:make it|set it to|change it to|mark it(?: as)?|urgency(?: is| should be| to|:)?|priority(?: is| should be| to|:)?|it'?s|its|it is)\s+(blocked|blocking|high|medium|low)\b`)

// ExplicitUrgency detects an urgency-setting statement such as "make it low".
func ExplicitUrgency(message string) (models.Urgency, bool) {
	m := explicitUrgency.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	word := strings.ToLower(m[1])
	if word == "blocking" {
		word = string(models.UrgencyBlocked)
	}
	return models.ParseUrgency(word)
}

var contradiction = regexp.MustCompile(`(?i)\b(?:it'?s|its|it is|that'?s|that is)\s+not\s+(?:the\s+)?[^,.;]+?[,;]?\s+(?:it'?s|its|it is|but|rather)\b|\bnot\s+[^,.;]+?\s+but\s+`)

// IsContradiction reports whether message explicitly rejects a previous value ("it's not X, it's Y").
func IsContradiction(message string) bool {
	return contradiction.MatchString(message)
}
