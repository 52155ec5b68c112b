// Package source resolves the trust attributed to whoever made a change.
package source

import (
	"context"
	"sync"

	"github.com/sells-group/fieldtrack/internal/model"
)

// Kind classifies the outcome of resolving a source reference.
type Kind int

const (
	// NoSource means the change carries no source reference.
	NoSource Kind = iota
	// Resolved means the source exists and supplies a confidence value.
	Resolved
	// NoValue means the source exists but does not supply a confidence value.
	NoValue
	// Unresolvable means the reference points at nothing, e.g. a deleted source.
	Unresolvable
)

func (k Kind) String() string {
	switch k {
	case NoSource:
		return "no_source"
	case Resolved:
		return "resolved"
	case NoValue:
		return "no_value"
	case Unresolvable:
		return "unresolvable"
	default:
		return "unknown"
	}
}

// Resolution is the result of looking up a source reference.
type Resolution struct {
	Kind  Kind
	Value int
}

// Score maps the resolution to the confidence reported when scoring a field.
// A resolved source yields its value; a source without a value yields the
// default; a missing or dangling reference yields 0.
func (r Resolution) Score() int {
	switch r.Kind {
	case Resolved:
		return r.Value
	case NoValue:
		return model.DefaultConfidence
	default:
		return 0
	}
}

// Captured maps the resolution to the confidence stored on a new change
// record. Anything other than a resolved value is recorded as the default.
func (r Resolution) Captured() int {
	if r.Kind == Resolved {
		return r.Value
	}
	return model.DefaultConfidence
}

// Resolver looks up the confidence of a source. A nil ref must resolve to
// NoSource.
type Resolver interface {
	Resolve(ctx context.Context, ref *model.Ref) Resolution
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, ref *model.Ref) Resolution

// Resolve calls f, handling the nil reference itself.
func (f Func) Resolve(ctx context.Context, ref *model.Ref) Resolution {
	if ref == nil || ref.IsZero() {
		return Resolution{Kind: NoSource}
	}
	return f(ctx, ref)
}

// Directory is an in-process Resolver over a set of known sources.
type Directory struct {
	mu      sync.RWMutex
	sources map[model.Ref]*int
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{sources: make(map[model.Ref]*int)}
}

// Put registers ref with a confidence, clamped to [0,100].
func (d *Directory) Put(ref model.Ref, confidence int) {
	c := clamp(confidence)
	d.mu.Lock()
	d.sources[ref] = &c
	d.mu.Unlock()
}

// PutDefault registers ref as a source that supplies no confidence value of
// its own.
func (d *Directory) PutDefault(ref model.Ref) {
	d.mu.Lock()
	d.sources[ref] = nil
	d.mu.Unlock()
}

// Forget removes ref. Later lookups resolve as Unresolvable.
func (d *Directory) Forget(ref model.Ref) {
	d.mu.Lock()
	delete(d.sources, ref)
	d.mu.Unlock()
}

// Resolve implements Resolver.
func (d *Directory) Resolve(_ context.Context, ref *model.Ref) Resolution {
	if ref == nil || ref.IsZero() {
		return Resolution{Kind: NoSource}
	}
	d.mu.RLock()
	c, ok := d.sources[*ref]
	d.mu.RUnlock()
	switch {
	case !ok:
		return Resolution{Kind: Unresolvable}
	case c == nil:
		return Resolution{Kind: NoValue}
	default:
		return Resolution{Kind: Resolved, Value: *c}
	}
}

func clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
