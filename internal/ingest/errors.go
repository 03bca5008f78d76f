// ABOUTME: Validation error for malformed webhook entries
// ABOUTME: Rejects one entry, change or message without aborting its siblings

package ingest

import "fmt"

// ValidationError reports a structurally invalid part of a payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
