package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateCreate checks an EventCreate for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the input is valid.
func ValidateCreate(c *EventCreate, now time.Time) error {
	var ve ValidationError

	if c.Timestamp.IsZero() {
		ve.Errors = append(ve.Errors, FieldError{Field: "timestamp", Message: "is required"})
	} else if c.Timestamp.After(now) {
		ve.Errors = append(ve.Errors, FieldError{Field: "timestamp", Message: "cannot be in the future"})
	}

	if strings.TrimSpace(c.SubjectID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "subject_id", Message: "is required"})
	}

	if strings.TrimSpace(c.Category) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "category", Message: "is required"})
	}

	switch u := strings.TrimSpace(c.SourceURL); {
	case u == "":
		ve.Errors = append(ve.Errors, FieldError{Field: "source_url", Message: "is required"})
	default:
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "source_url",
				Message: fmt.Sprintf("invalid URL %q", u),
			})
		}
	}

	if strings.TrimSpace(c.Message) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "message", Message: "is required"})
	}

	if strings.TrimSpace(c.Trace) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "trace", Message: "is required"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
