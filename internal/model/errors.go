package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDegenerateAggregate is returned when an entity-level aggregate would
// divide by zero. Registration rejects entity types with no declared fields,
// so reaching it means configuration invariants were bypassed.
var ErrDegenerateAggregate = errors.New("degenerate aggregate: object importance is zero")

// ConfigurationError reports an invalid field declaration. It is raised at
// registration time, never while scoring.
type ConfigurationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("configuration: %s.%s: %s", e.Entity, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	case e.Entity != "":
		return fmt.Sprintf("configuration: %s: %s", e.Entity, e.Reason)
	default:
		return "configuration: " + e.Reason
	}
}

// IsConfigurationError returns true if err (or any error in its chain) is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ValidationError carries per-field validation messages for a change record
// or an entity being saved.
type ValidationError struct {
	Entity string
	Fields map[string]string
}

// NewValidationError creates a ValidationError with a single field message.
func NewValidationError(entity, field, msg string) *ValidationError {
	return &ValidationError{Entity: entity, Fields: map[string]string{field: msg}}
}

// Add records a message for field, replacing any previous one.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// Empty reports whether no field messages have been recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Only narrows the error to a single field. It returns nil when field has
// no message, so callers can treat the other fields' errors as irrelevant.
func (e *ValidationError) Only(field string) *ValidationError {
	if e == nil {
		return nil
	}
	msg, ok := e.Fields[field]
	if !ok {
		return nil
	}
	return NewValidationError(e.Entity, field, msg)
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	prefix := "validation"
	if e.Entity != "" {
		prefix += ": " + e.Entity
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// IsValidationError returns true if err (or any error in its chain) is a
// ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidationError extracts the ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
