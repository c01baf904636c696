// Package util provides id generation and environment helpers for IntakeDesk.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// It is not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "s_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTicketReference returns a human-friendly ticket reference such as "INC-3F9A1C0B".
func NewTicketReference() string {
	id := uuid.New()
	return "INC-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// IsValidSessionID reports whether id is safe to use as a session key.
func IsValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '+', r == '.', r == '@', r == ':':
		default:
			return false
		}
	}
	return true
}
