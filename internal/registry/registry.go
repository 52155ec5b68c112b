// Package registry holds the per-entity-type field declarations that drive
// change tracking and scoring.
package registry

import (
	"sort"
	"sync"

	"github.com/sells-group/fieldtrack/internal/model"
)

// Registry maps an entity type to its ordered field specs. Types are
// registered once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*entityFields
}

type entityFields struct {
	specs  []model.FieldSpec
	byName map[string]*model.FieldSpec
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{kinds: make(map[string]*entityFields)}
}

// Register declares the tracked fields of kind. It fails with a
// ConfigurationError if kind is empty or already registered, if no specs are
// given, or if any spec is invalid or duplicated.
func (r *Registry) Register(kind string, specs ...model.FieldSpec) error {
	if kind == "" {
		return &model.ConfigurationError{Reason: "entity type is required"}
	}
	if len(specs) == 0 {
		return &model.ConfigurationError{Entity: kind, Reason: "no fields declared"}
	}

	ef := &entityFields{
		specs:  make([]model.FieldSpec, len(specs)),
		byName: make(map[string]*model.FieldSpec, len(specs)),
	}
	copy(ef.specs, specs)
	for i := range ef.specs {
		s := &ef.specs[i]
		if err := s.Validate(); err != nil {
			if ce, ok := err.(*model.ConfigurationError); ok {
				ce.Entity = kind
			}
			return err
		}
		if _, dup := ef.byName[s.Name]; dup {
			return &model.ConfigurationError{Entity: kind, Field: s.Name, Reason: "declared more than once"}
		}
		ef.byName[s.Name] = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; exists {
		return &model.ConfigurationError{Entity: kind, Reason: "already registered"}
	}
	r.kinds[kind] = ef
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind string, specs ...model.FieldSpec) {
	if err := r.Register(kind, specs...); err != nil {
		panic(err)
	}
}

// Specs returns a copy of the declared specs for kind in declaration order,
// or nil if kind is not registered.
func (r *Registry) Specs(kind string) []model.FieldSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ef := r.kinds[kind]
	if ef == nil {
		return nil
	}
	out := make([]model.FieldSpec, len(ef.specs))
	copy(out, ef.specs)
	return out
}

// Spec returns the spec for field on kind, or nil if the field is not declared.
func (r *Registry) Spec(kind, field string) *model.FieldSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ef := r.kinds[kind]
	if ef == nil {
		return nil
	}
	s, ok := ef.byName[field]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Tracked reports whether field is declared on kind.
func (r *Registry) Tracked(kind, field string) bool {
	return r.Spec(kind, field) != nil
}

// Names returns the declared field names for kind in declaration order.
func (r *Registry) Names(kind string) []string {
	specs := r.Specs(kind)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Kinds returns all registered entity types, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
