package security

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Validation limits.
const (
	// Query limits.
	MinQueryLength = 1
	MaxQueryLength = 10000

	// Site name limits.
	MinSiteNameLength = 1
	MaxSiteNameLength = 64

	// Request limits.
	MaxRequestSize = 1 * 1024 * 1024 // 1MB
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// siteNameRegex matches valid site names: alphanumeric, hyphen, underscore.
var siteNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateQuery validates an inbound query string.
// Requirements: Required, 1-10000 chars, valid UTF-8.
func ValidateQuery(query string) error {
	if query == "" {
		return &ValidationError{
			Field:      "query",
			Constraint: "required",
		}
	}

	length := utf8.RuneCountInString(query)
	if length < MinQueryLength {
		return &ValidationError{
			Field:      "query",
			Value:      length,
			Constraint: fmt.Sprintf("minimum length is %d characters", MinQueryLength),
		}
	}

	if length > MaxQueryLength {
		return &ValidationError{
			Field:      "query",
			Value:      length,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxQueryLength),
		}
	}

	if !utf8.ValidString(query) {
		return &ValidationError{
			Field:      "query",
			Constraint: "must be valid UTF-8",
		}
	}

	return nil
}

// ValidateSiteName validates a site identifier.
// Requirements: 1-64 chars, alphanumeric + hyphen + underscore, must start with alphanumeric.
// An empty site is allowed; callers substitute the default.
func ValidateSiteName(name string) error {
	if name == "" {
		return nil
	}

	length := len(name)
	if length > MaxSiteNameLength {
		return &ValidationError{
			Field:      "site",
			Value:      length,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxSiteNameLength),
		}
	}

	if !siteNameRegex.MatchString(name) {
		return &ValidationError{
			Field:      "site",
			Constraint: "must be alphanumeric with optional hyphens and underscores",
		}
	}

	return nil
}

// ValidateFeedback validates a feedback value.
func ValidateFeedback(feedback string) error {
	switch feedback {
	case "positive", "negative":
		return nil
	default:
		return &ValidationError{
			Field:      "feedback",
			Value:      feedback,
			Constraint: "must be positive or negative",
		}
	}
}
