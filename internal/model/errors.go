package model

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ValidationError reports malformed input. Per-story validation errors are
// recovered by dropping the story; they never abort a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ParseDate validates a calendar day key (YYYY-MM-DD) and returns it trimmed.
func ParseDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Field: "date", Reason: "is required"}
	}
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return "", &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return parsed.Format(dateLayout), nil
}
