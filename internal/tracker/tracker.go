// Package tracker records field changes of tracked entities and keeps their
// cached health current.
//
// A commit runs in a fixed order: validate, recompute the cached health from
// the values about to be saved, save the entity, then append one change
// record per changed tracked field stamped with the save time. Commits on
// the same entity are serialized so the cached health and the change log
// always describe the same commit.
package tracker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldtrack/internal/model"
	"github.com/sells-group/fieldtrack/internal/resilience"
	"github.com/sells-group/fieldtrack/internal/scoring"
	"github.com/sells-group/fieldtrack/internal/store"
)

// Entity is a record whose declared fields are tracked.
type Entity interface {
	scoring.Subject
	scoring.HealthCache
	Set(field string, value any) error
	SetCachedHealth(h int)
}

// Validator is implemented by entities with save-time validation. Validate
// returns a *model.ValidationError or nil.
type Validator interface {
	Validate() error
}

// EntityStore persists tracked entities. Save returns the entity's own save
// timestamp and assigns an id to new entities.
type EntityStore interface {
	Save(ctx context.Context, e Entity) (time.Time, error)
	Delete(ctx context.Context, ref model.Ref) error
}

// Tracker commits mutations of tracked entities.
type Tracker struct {
	engine   *scoring.Engine
	changes  store.ChangeLog
	entities EntityStore
	retry    resilience.RetryConfig
	locks    *entityLocks
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetry sets the retry policy for change-log writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(t *Tracker) { t.retry = cfg }
}

// New creates a Tracker.
func New(engine *scoring.Engine, changes store.ChangeLog, entities EntityStore, opts ...Option) *Tracker {
	t := &Tracker{
		engine:   engine,
		changes:  changes,
		entities: entities,
		retry:    resilience.DefaultRetryConfig(),
		locks:    newEntityLocks(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Engine returns the scoring engine used for health.
func (t *Tracker) Engine() *scoring.Engine {
	return t.engine
}

// UpdateHealth recomputes the overall health of e and stores it in the
// entity's cache. The entity is not saved.
func (t *Tracker) UpdateHealth(ctx context.Context, e Entity) (int, error) {
	if err := t.checkRegistered(e); err != nil {
		return 0, err
	}
	h, err := t.engine.OverallHealth(ctx, e)
	if err != nil {
		return 0, err
	}
	e.SetCachedHealth(h)
	return h, nil
}

// UpdateHealthAndSave recomputes the cached health and saves e without
// running validation. No change records are written.
func (t *Tracker) UpdateHealthAndSave(ctx context.Context, e Entity) (int, error) {
	unlock := t.locks.lock(e.Ref())
	defer unlock()

	h, err := t.UpdateHealth(ctx, e)
	if err != nil {
		return 0, err
	}
	if _, err := t.save(ctx, e); err != nil {
		return 0, err
	}
	return h, nil
}

// ConfirmField re-attests the current value of field, renewing its
// freshness without changing data.
func (t *Tracker) ConfirmField(ctx context.Context, e Entity, field string, src *model.Ref) (*model.ChangeRecord, error) {
	if err := t.checkTracked(e, field); err != nil {
		return nil, err
	}
	unlock := t.locks.lock(e.Ref())
	defer unlock()

	rec := t.newRecord(ctx, e, field, e.Get(field), src, t.engine.Now())
	ref := e.Ref()
	err := resilience.Do(ctx, t.retryFor("append", ref), func(ctx context.Context) error {
		return t.changes.Append(ctx, &rec)
	})
	if err != nil {
		if ve, ok := model.AsValidationError(err); ok {
			return nil, ve
		}
		return nil, eris.Wrapf(err, "tracker: confirm %s.%s", ref, field)
	}
	return &rec, nil
}

// ConfirmAllFields re-attests every declared field of e in one batch.
func (t *Tracker) ConfirmAllFields(ctx context.Context, e Entity, src *model.Ref) ([]model.ChangeRecord, error) {
	if err := t.checkRegistered(e); err != nil {
		return nil, err
	}
	unlock := t.locks.lock(e.Ref())
	defer unlock()

	now := t.engine.Now()
	ref := e.Ref()
	names := t.engine.Registry().Names(ref.Kind)
	recs := make([]model.ChangeRecord, 0, len(names))
	for _, name := range names {
		recs = append(recs, t.newRecord(ctx, e, name, e.Get(name), src, now))
	}
	if err := t.appendBatch(ctx, ref, recs); err != nil {
		if ve, ok := model.AsValidationError(err); ok {
			return nil, ve
		}
		return nil, eris.Wrapf(err, "tracker: confirm all fields of %s", ref)
	}
	return recs, nil
}

// UpdateSingleAttribute assigns one field, validates only that field and
// saves unconditionally when it is valid. It reports whether the value was
// saved. A saved value whose change record could not be written returns
// true with an *UnauditedError. A rejected value is taken back off e so the
// next commit still sees it as a change.
func (t *Tracker) UpdateSingleAttribute(ctx context.Context, e Entity, field string, value any, src *model.Ref) (bool, error) {
	m := t.Mutate(e)
	m.Source(src)
	if err := m.Set(field, value); err != nil {
		return false, err
	}
	if v, ok := e.(Validator); ok {
		if err := narrow(v.Validate(), field); err != nil {
			m.revert()
			return false, err
		}
	}
	if _, err := m.commit(ctx, false); err != nil {
		if IsUnaudited(err) {
			return true, err
		}
		m.revert()
		return false, err
	}
	return true, nil
}

// Delete removes e and every change record it owns.
func (t *Tracker) Delete(ctx context.Context, e Entity) error {
	ref := e.Ref()
	if ref.IsNew() {
		return nil
	}
	unlock := t.locks.lock(ref)
	defer unlock()

	n, err := t.changes.DeleteFor(ctx, ref)
	if err != nil {
		return eris.Wrapf(err, "tracker: delete change records of %s", ref)
	}
	if err := t.entities.Delete(ctx, ref); err != nil {
		return eris.Wrapf(err, "tracker: delete %s", ref)
	}
	zap.L().Info("deleted tracked entity",
		zap.String("entity", ref.String()),
		zap.Int("change_records", n),
	)
	return nil
}

// Repair writes the change records of a commit that saved its values but
// failed to log them.
func (t *Tracker) Repair(ctx context.Context, ue *UnauditedError) error {
	if ue == nil || len(ue.Records) == 0 {
		return nil
	}
	unlock := t.locks.lock(ue.Entity)
	defer unlock()

	if err := t.appendBatch(ctx, ue.Entity, ue.Records); err != nil {
		return eris.Wrapf(err, "tracker: repair %s", ue.Entity)
	}
	zap.L().Info("repaired unaudited commit",
		zap.String("entity", ue.Entity.String()),
		zap.Int("change_records", len(ue.Records)),
	)
	return nil
}

func (t *Tracker) save(ctx context.Context, e Entity) (time.Time, error) {
	savedAt, err := t.entities.Save(ctx, e)
	if err != nil {
		if ve, ok := model.AsValidationError(err); ok {
			return time.Time{}, ve
		}
		return time.Time{}, eris.Wrapf(err, "tracker: save %s", e.Ref())
	}
	if savedAt.IsZero() {
		savedAt = t.engine.Now()
	}
	return savedAt, nil
}

func (t *Tracker) newRecord(ctx context.Context, e Entity, field string, value any, src *model.Ref, at time.Time) model.ChangeRecord {
	conf := t.engine.Resolver().Resolve(ctx, src).Captured()
	return model.NewChangeRecord(e.Ref(), field, value, src, conf, at)
}

func (t *Tracker) appendBatch(ctx context.Context, ref model.Ref, recs []model.ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return resilience.Do(ctx, t.retryFor("append_batch", ref), func(ctx context.Context) error {
		return t.changes.AppendBatch(ctx, recs)
	})
}

func (t *Tracker) retryFor(op string, ref model.Ref) resilience.RetryConfig {
	cfg := t.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(op, ref.String())
	}
	return cfg
}

func (t *Tracker) checkRegistered(e Entity) error {
	kind := e.Ref().Kind
	if len(t.engine.Registry().Specs(kind)) == 0 {
		return &model.ConfigurationError{Entity: kind, Reason: "entity type is not registered"}
	}
	return nil
}

func (t *Tracker) checkTracked(e Entity, field string) error {
	kind := e.Ref().Kind
	if !t.engine.Registry().Tracked(kind, field) {
		return model.NewValidationError(kind, field, "is not tracked")
	}
	return nil
}

// narrow reduces a validation failure to the messages about field. Other
// errors pass through unchanged.
func narrow(err error, field string) error {
	if err == nil {
		return nil
	}
	ve, ok := model.AsValidationError(err)
	if !ok {
		return err
	}
	if only := ve.Only(field); only != nil {
		return only
	}
	return nil
}
