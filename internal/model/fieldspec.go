package model

import "fmt"

const (
	// DefaultWeight is the importance assigned to a field declared without one.
	DefaultWeight = 80
	// DefaultMaxAgeDays is the age, in days, after which freshness reaches 0.
	DefaultMaxAgeDays = 365
	// DefaultConfidence is attributed to changes whose source does not supply
	// a confidence value.
	DefaultConfidence = 100

	minWeight = 1
	maxWeight = 100
)

// IgnoredFields are never written to the change log: identity, timestamp
// housekeeping and the cached health value itself.
var IgnoredFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"health":     true,
}

// FieldSpec is the static scoring configuration of one tracked field. Specs
// are declared once per entity type and shared read-only by every instance.
type FieldSpec struct {
	Name   string  `json:"name" yaml:"name"`
	Weight int     `json:"weight" yaml:"weight"`
	MaxAge float64 `json:"max_age" yaml:"max_age"` // days
}

// FieldSpecOption customizes a FieldSpec built by NewFieldSpec.
type FieldSpecOption func(*FieldSpec) error

// WithWeight sets the field weight. See FieldSpec.SetWeight.
func WithWeight(w int) FieldSpecOption {
	return func(s *FieldSpec) error { return s.SetWeight(w) }
}

// WithMaxAge sets the field max age in days. See FieldSpec.SetMaxAge.
func WithMaxAge(days float64) FieldSpecOption {
	return func(s *FieldSpec) error { return s.SetMaxAge(days) }
}

// NewFieldSpec creates a spec with default weight and max age, then applies opts.
func NewFieldSpec(name string, opts ...FieldSpecOption) (FieldSpec, error) {
	s := FieldSpec{Name: name, Weight: DefaultWeight, MaxAge: DefaultMaxAgeDays}
	if name == "" {
		return s, &ConfigurationError{Reason: "field name is required"}
	}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// MustFieldSpec is like NewFieldSpec but panics on error. Intended for
// package-level declarations.
func MustFieldSpec(name string, opts ...FieldSpecOption) FieldSpec {
	s, err := NewFieldSpec(name, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// SetWeight assigns w if it lies in [1,100].
func (s *FieldSpec) SetWeight(w int) error {
	if w < minWeight || w > maxWeight {
		return &ConfigurationError{Field: s.Name, Reason: fmt.Sprintf("weight %d not in range [%d,%d]", w, minWeight, maxWeight)}
	}
	s.Weight = w
	return nil
}

// SetMaxAge assigns days if it is positive. Freshness divides by it.
func (s *FieldSpec) SetMaxAge(days float64) error {
	if days <= 0 {
		return &ConfigurationError{Field: s.Name, Reason: fmt.Sprintf("max age %g must be positive", days)}
	}
	s.MaxAge = days
	return nil
}

// Validate checks a spec that was built without the setters, e.g. decoded
// from a declarations file.
func (s FieldSpec) Validate() error {
	if s.Name == "" {
		return &ConfigurationError{Reason: "field name is required"}
	}
	if err := (&FieldSpec{Name: s.Name}).SetWeight(s.Weight); err != nil {
		return err
	}
	return (&FieldSpec{Name: s.Name}).SetMaxAge(s.MaxAge)
}
