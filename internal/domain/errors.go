package domain

import (
	"fmt"
	"strings"
)

// ValidationError rejects a request that can never succeed as submitted.
type ValidationError struct {
	Code         string
	Reason       string
	MissingData  []string
	MissingFiles []string
}

func (e ValidationError) Error() string {
	if len(e.MissingData) == 0 && len(e.MissingFiles) == 0 {
		return e.Reason
	}
	var parts []string
	if len(e.MissingData) > 0 {
		parts = append(parts, "missing data: "+strings.Join(e.MissingData, ", "))
	}
	if len(e.MissingFiles) > 0 {
		parts = append(parts, "missing files: "+strings.Join(e.MissingFiles, ", "))
	}
	return e.Reason + " (" + strings.Join(parts, "; ") + ")"
}

func Invalid(code, format string, args ...any) ValidationError {
	return ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a lost race against a concurrent writer.
// Retrying against the current state is safe.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }
