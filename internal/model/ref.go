package model

// Ref is a typed reference to an owning entity or to a change source. Kind
// identifies the record type, ID the instance within it.
type Ref struct {
	Kind string `json:"kind" yaml:"kind"`
	ID   string `json:"id" yaml:"id"`
}

// NewRef creates a Ref.
func NewRef(kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// IsZero reports whether both kind and id are empty.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// IsNew reports whether the referenced record has not been persisted yet.
// Unsaved records have no id and therefore no history.
func (r Ref) IsNew() bool {
	return r.ID == ""
}

func (r Ref) String() string {
	return r.Kind + ":" + r.ID
}
