package tracker

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldtrack/internal/model"
)

// Change is one field's value before and after a mutation.
type Change struct {
	Field string
	Old   any
	New   any
}

// Mutation stages attribute changes on an entity together with the source
// they are attributed to. The source applies to this mutation only.
type Mutation struct {
	t      *Tracker
	e      Entity
	mu     sync.Mutex
	source *model.Ref
	prior  map[string]any
	order  []string
	closed bool
}

// Mutate starts a mutation of e.
func (t *Tracker) Mutate(e Entity) *Mutation {
	return &Mutation{t: t, e: e, prior: make(map[string]any)}
}

// Source attributes the mutation to ref. A nil ref leaves it unsourced.
func (m *Mutation) Source(ref *model.Ref) *Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref == nil || ref.IsZero() {
		m.source = nil
		return m
	}
	r := *ref
	m.source = &r
	return m
}

// Set assigns value to field on the entity, remembering the value the field
// held before the mutation's first assignment to it.
func (m *Mutation) Set(field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return eris.New("tracker: mutation already committed")
	}
	if _, seen := m.prior[field]; !seen {
		m.prior[field] = m.e.Get(field)
		m.order = append(m.order, field)
	}
	return m.e.Set(field, value)
}

// revert puts every assigned field back to its value before the mutation.
// A committed mutation is left alone.
func (m *Mutation) revert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, field := range m.order {
		if err := m.e.Set(field, m.prior[field]); err != nil {
			zap.L().Warn("tracker: revert field",
				zap.String("entity", m.e.Ref().String()),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}
	m.prior = make(map[string]any)
	m.order = nil
}

// Changes returns the assigned fields whose value differs from the value
// before the mutation, in assignment order. Ignored housekeeping fields are
// left out.
func (m *Mutation) Changes() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes()
}

func (m *Mutation) changes() []Change {
	var out []Change
	for _, field := range m.order {
		if model.IgnoredFields[field] {
			continue
		}
		old, cur := m.prior[field], m.e.Get(field)
		if model.ValuesEqual(old, cur) {
			continue
		}
		out = append(out, Change{Field: field, Old: old, New: cur})
	}
	return out
}

// Commit validates and saves the entity, then logs every changed tracked
// field. It returns the written change records.
//
// A validation or save failure leaves the mutation open for another
// attempt. Once the entity is saved the mutation is closed; if the change
// log could not be written the error is an *UnauditedError.
func (m *Mutation) Commit(ctx context.Context) ([]model.ChangeRecord, error) {
	return m.commit(ctx, true)
}

func (m *Mutation) commit(ctx context.Context, validate bool) ([]model.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, eris.New("tracker: mutation already committed")
	}
	t, e := m.t, m.e
	if err := t.checkRegistered(e); err != nil {
		return nil, err
	}

	unlock := t.locks.lock(e.Ref())
	defer unlock()

	if validate {
		if v, ok := e.(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
	}

	health, err := t.UpdateHealth(ctx, e)
	if err != nil {
		return nil, err
	}
	savedAt, err := t.save(ctx, e)
	if err != nil {
		return nil, err
	}
	m.closed = true

	ref := e.Ref()
	reg := t.engine.Registry()
	var recs []model.ChangeRecord
	for _, c := range m.changes() {
		if !reg.Tracked(ref.Kind, c.Field) {
			continue
		}
		recs = append(recs, t.newRecord(ctx, e, c.Field, c.New, m.source, savedAt))
	}
	m.source = nil

	log := zap.L().With(zap.String("entity", ref.String()))
	if err := t.appendBatch(ctx, ref, recs); err != nil {
		log.Error("entity saved but change records not written",
			zap.Int("change_records", len(recs)),
			zap.Error(err),
		)
		return nil, &UnauditedError{Entity: ref, Records: recs, Err: err}
	}
	log.Debug("committed mutation",
		zap.Int("change_records", len(recs)),
		zap.Int("health", health),
	)
	return recs, nil
}
