package model

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRecord is one immutable audit entry: a tracked field of an entity
// took NewValue at ChangedAt, attributed to Source.
type ChangeRecord struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq,omitempty"` // insertion order, assigned by the store
	Entity     Ref       `json:"entity"`
	FieldName  string    `json:"field_name"`
	NewValue   string    `json:"new_value"`
	Source     *Ref      `json:"source,omitempty"`
	Confidence int       `json:"confidence"` // captured at write time
	ChangedAt  time.Time `json:"changed_at"`
}

// NewChangeRecord builds a record with a fresh id. value is formatted with
// FormatValue; source may be nil for unsourced changes.
func NewChangeRecord(entity Ref, field string, value any, source *Ref, confidence int, changedAt time.Time) ChangeRecord {
	var src *Ref
	if source != nil && !source.IsZero() {
		s := *source
		src = &s
	}
	return ChangeRecord{
		ID:         uuid.New().String(),
		Entity:     entity,
		FieldName:  field,
		NewValue:   FormatValue(value),
		Source:     src,
		Confidence: confidence,
		ChangedAt:  changedAt.UTC(),
	}
}

// HasSource reports whether the change is attributed to a source.
func (c ChangeRecord) HasSource() bool {
	return c.Source != nil && !c.Source.IsZero()
}

// Validate checks that all required fields are present.
func (c ChangeRecord) Validate() error {
	ve := &ValidationError{Entity: "change_record"}
	if c.Entity.Kind == "" {
		ve.Add("entity_type", "can't be blank")
	}
	if c.Entity.ID == "" {
		ve.Add("entity_id", "can't be blank")
	}
	if c.FieldName == "" {
		ve.Add("field_name", "can't be blank")
	}
	if c.ChangedAt.IsZero() {
		ve.Add("changed_at", "can't be blank")
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		ve.Add("confidence", "must be between 0 and 100")
	}
	if c.Source != nil && (c.Source.Kind == "" || c.Source.ID == "") {
		ve.Add("source", "must have both type and id")
	}
	if ve.Empty() {
		return nil
	}
	return ve
}
