package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
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

// Layouts accepted for date and datetime values.
const (
	DateLayout = "2006-01-02"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// keyPattern allows dotted, namespaced keys such as "home.hero_title".
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateKey checks that a content key is usable.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return &ValidationError{Errors: []FieldError{{Field: "key", Message: "is required"}}}
	case len(key) > 200:
		return &ValidationError{Errors: []FieldError{{Field: "key", Message: "must be 200 characters or fewer"}}}
	case !keyPattern.MatchString(key):
		return &ValidationError{Errors: []FieldError{{Field: "key", Message: "may contain only letters, digits, '.', '_' and '-'"}}}
	}
	return nil
}

// ValidateValue checks that value parses as the declared type.
// Errors are reported against the item key so the admin UI can flag the field.
func ValidateValue(key, value string, vt ValueType) error {
	msg := valueProblem(value, vt)
	if msg == "" {
		return nil
	}
	return &ValidationError{Errors: []FieldError{{Field: key, Message: msg}}}
}

// ValidateItem checks the key, the value type and the value of an item.
func ValidateItem(c *ContentItem) error {
	if err := ValidateKey(c.Key); err != nil {
		return err
	}
	return ValidateValue(c.Key, c.Value, c.ValueType)
}

func valueProblem(value string, vt ValueType) string {
	switch vt {
	case ValueText:
		return ""
	case ValueNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil || strings.TrimSpace(value) == "" {
			return "must be a number, got " + strconv.Quote(value)
		}
		if isNaNOrInf(value) {
			return "must be a finite number, got " + strconv.Quote(value)
		}
	case ValueDate:
		if _, err := time.Parse(DateLayout, strings.TrimSpace(value)); err != nil {
			return "must be a date (YYYY-MM-DD), got " + strconv.Quote(value)
		}
	case ValueDateTime:
		if _, ok := ParseDateTime(value); !ok {
			return "must be a date and time (YYYY-MM-DD HH:MM:SS or RFC 3339), got " + strconv.Quote(value)
		}
	case ValueBoolean:
		if _, ok := ParseBool(value); !ok {
			return "must be a boolean (true/false), got " + strconv.Quote(value)
		}
	default:
		return "unknown value type " + strconv.Quote(string(vt))
	}
	return ""
}

func isNaNOrInf(value string) bool {
	v := strings.ToLower(strings.TrimLeft(strings.TrimSpace(value), "+-"))
	return v == "nan" || strings.HasPrefix(v, "inf")
}

// ParseDateTime parses any of the accepted datetime layouts.
func ParseDateTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts the usual spellings an admin form may submit.
func ParseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}
