package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the orchestration pipeline.
var (
	ErrInvalidInput                = errors.New("invalid input")
	ErrCapabilityUnavailable       = errors.New("capability unavailable")
	ErrMalformedCapabilityResponse = errors.New("malformed capability response")
	ErrSessionNotFound             = errors.New("session not found")
	ErrTicketNotFound              = errors.New("ticket not found")
	ErrSubmissionBlocked           = errors.New("submission blocked")
	ErrPersistenceFailure          = errors.New("persistence failure")
	ErrSessionSubmitted            = errors.New("session already submitted")
)

// SubmissionBlockedError names the precondition of the submission gate that failed.
type SubmissionBlockedError struct {
	Field  FieldName // empty when the failure is not about a field
	Reason string
}

func (e *SubmissionBlockedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("submission blocked: %s (%s)", e.Reason, e.Field)
	}
	return "submission blocked: " + e.Reason
}

// Unwrap lets callers match with errors.Is(err, ErrSubmissionBlocked).
func (e *SubmissionBlockedError) Unwrap() error {
	return ErrSubmissionBlocked
}
