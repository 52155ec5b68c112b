package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangeRecord(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	src := NewRef("admin", "7")
	rec := NewChangeRecord(NewRef("person", "42"), "age", 31, &src, 40, at)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "31", rec.NewValue)
	assert.Equal(t, 40, rec.Confidence)
	assert.Equal(t, time.UTC, rec.ChangedAt.Location())
	assert.True(t, rec.ChangedAt.Equal(at))
	require.True(t, rec.HasSource())
	assert.Equal(t, "admin:7", rec.Source.String())
	assert.NoError(t, rec.Validate())

	// Source is copied, not aliased.
	src.ID = "8"
	assert.Equal(t, "7", rec.Source.ID)
}

func TestNewChangeRecord_ZeroSourceIsUnsourced(t *testing.T) {
	t.Parallel()

	rec := NewChangeRecord(NewRef("person", "1"), "name", "Ann", &Ref{}, DefaultConfidence, time.Now())
	assert.False(t, rec.HasSource())
	assert.Nil(t, rec.Source)
}

func TestChangeRecord_Validate_MissingFields(t *testing.T) {
	t.Parallel()

	err := ChangeRecord{Confidence: 100}.Validate()
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, ve.Fields, "entity_type")
	assert.Contains(t, ve.Fields, "entity_id")
	assert.Contains(t, ve.Fields, "field_name")
	assert.Contains(t, ve.Fields, "changed_at")
	assert.NotContains(t, ve.Fields, "confidence")
}

func TestChangeRecord_Validate_UnsavedEntity(t *testing.T) {
	t.Parallel()

	rec := NewChangeRecord(NewRef("person", ""), "name", "Ann", nil, 100, time.Now())
	ve, ok := AsValidationError(rec.Validate())
	require.True(t, ok)
	assert.Equal(t, map[string]string{"entity_id": "can't be blank"}, ve.Fields)
}

func TestChangeRecord_Validate_ConfidenceRange(t *testing.T) {
	t.Parallel()

	rec := NewChangeRecord(NewRef("person", "1"), "name", "Ann", nil, 101, time.Now())
	assert.True(t, IsValidationError(rec.Validate()))
}

func TestValidationError_Only(t *testing.T) {
	t.Parallel()

	ve := &ValidationError{Entity: "person"}
	ve.Add("name", "can't be blank")
	ve.Add("email", "is invalid")

	only := ve.Only("email")
	require.NotNil(t, only)
	assert.Equal(t, map[string]string{"email": "is invalid"}, only.Fields)
	assert.Nil(t, ve.Only("age"))
	assert.Equal(t, "validation: person: email is invalid; name can't be blank", ve.Error())
}

func TestRef(t *testing.T) {
	t.Parallel()

	assert.True(t, Ref{}.IsZero())
	assert.True(t, NewRef("person", "").IsNew())
	assert.False(t, NewRef("person", "1").IsNew())
	assert.Equal(t, "person:1", NewRef("person", "1").String())
}
