package security

import (
	"regexp"
	"strings"
)

var ackPhrase = regexp.MustCompile(`(?i)^\s*(ok(ay)?|k|got it|understood|i understand|understand|sure|fine|noted|yes|yep|yeah|alright|all right|sorry|my bad|will do|i won'?t|i will not|i won'?t share it|acknowledged?)\b`)

// IsAcknowledgment reports whether message acknowledges a security warning.
func IsAcknowledgment(message string) bool {
	m := strings.TrimSpace(message)
	if m == "" || len(m) > 120 {
		return false
	}
	return ackPhrase.MatchString(m)
}
