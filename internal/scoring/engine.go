// Package scoring computes freshness, confidence and health scores for
// tracked fields from the change log.
package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldtrack/internal/model"
	"github.com/sells-group/fieldtrack/internal/registry"
	"github.com/sells-group/fieldtrack/internal/source"
	"github.com/sells-group/fieldtrack/internal/store"
)

const (
	hoursPerDay = 24

	// Fields at or below this freshness with at least staleWeight importance
	// score 0 health.
	staleFreshness = 10
	staleWeight    = 80
)

// Mode selects where Confidence reads its value from.
type Mode string

const (
	// ModeLive resolves the source of the latest change at read time.
	ModeLive Mode = "live"
	// ModeCaptured reads the confidence stored on the latest change.
	ModeCaptured Mode = "captured"
)

// Subject is the read-only view of a tracked entity the engine scores.
type Subject interface {
	Ref() model.Ref
	Get(field string) any
}

// HealthCache is implemented by subjects that carry a cached health value.
type HealthCache interface {
	CachedHealth() int
}

// Engine scores entities. It only reads the change log and is safe for
// concurrent use.
type Engine struct {
	reg         *registry.Registry
	changes     store.ChangeLog
	resolver    source.Resolver
	now         func() time.Time
	mode        Mode
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for freshness.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfidenceMode selects live or captured confidence.
func WithConfidenceMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithConcurrency bounds the number of concurrent change-log reads in Report.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Engine. A nil resolver treats every sourced change as a
// source without a confidence value of its own.
func New(reg *registry.Registry, changes store.ChangeLog, resolver source.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = source.Func(func(context.Context, *model.Ref) source.Resolution {
			return source.Resolution{Kind: source.NoValue}
		})
	}
	e := &Engine{
		reg:         reg,
		changes:     changes,
		resolver:    resolver,
		now:         time.Now,
		mode:        ModeLive,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolver returns the source resolver used for confidence.
func (e *Engine) Resolver() source.Resolver {
	return e.resolver
}

// Registry returns the field registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// LatestFor returns the most recent change to field, or nil. Unsaved
// entities have no history and the log is not queried.
func (e *Engine) LatestFor(ctx context.Context, ref model.Ref, field string) (*model.ChangeRecord, error) {
	if ref.IsNew() {
		return nil, nil
	}
	rec, err := e.changes.Latest(ctx, ref, field)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: latest change for %s.%s", ref, field)
	}
	return rec, nil
}

// AllFor returns the history of field, newest first.
func (e *Engine) AllFor(ctx context.Context, ref model.Ref, field string) ([]model.ChangeRecord, error) {
	if ref.IsNew() {
		return nil, nil
	}
	recs, err := e.changes.AllFor(ctx, ref, field)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: changes for %s.%s", ref, field)
	}
	return recs, nil
}

// Freshness decays linearly from 100 at the last change to 0 at the field's
// max age. Blank values and fields without history score 0.
func (e *Engine) Freshness(ctx context.Context, s Subject, field string) (int, error) {
	if model.IsBlank(s.Get(field)) {
		return 0, nil
	}
	last, err := e.LatestFor(ctx, s.Ref(), field)
	if err != nil {
		return 0, err
	}
	return e.freshness(s, e.spec(s.Ref().Kind, field), last), nil
}

// Confidence is the trust attributed to the source of the last change, or 0
// without history.
func (e *Engine) Confidence(ctx context.Context, s Subject, field string) (int, error) {
	last, err := e.LatestFor(ctx, s.Ref(), field)
	if err != nil {
		return 0, err
	}
	return e.confidence(ctx, last), nil
}

// Health combines freshness and confidence for one field.
func (e *Engine) Health(ctx context.Context, s Subject, field string) (int, error) {
	last, err := e.LatestFor(ctx, s.Ref(), field)
	if err != nil {
		return 0, err
	}
	return e.fieldScore(ctx, s, e.spec(s.Ref().Kind, field), last).Health, nil
}

// ObjectFreshness is the mean freshness over every declared field.
func (e *Engine) ObjectFreshness(ctx context.Context, s Subject) (int, error) {
	r, err := e.Report(ctx, s)
	if err != nil {
		return 0, err
	}
	return r.Freshness, nil
}

// ObjectConfidence is the mean confidence over every declared field.
func (e *Engine) ObjectConfidence(ctx context.Context, s Subject) (int, error) {
	r, err := e.Report(ctx, s)
	if err != nil {
		return 0, err
	}
	return r.Confidence, nil
}

// ObjectImportance is the mean weight of the declared fields of kind.
func (e *Engine) ObjectImportance(kind string) (int, error) {
	specs := e.reg.Specs(kind)
	if len(specs) == 0 {
		return 0, eris.Wrapf(model.ErrDegenerateAggregate, "scoring: %s declares no fields", kind)
	}
	return importance(specs), nil
}

// OverallHealth is ObjectConfidence * ObjectFreshness / ObjectImportance.
// The result is not clamped and exceeds 100 when importance is below the
// product's scale.
func (e *Engine) OverallHealth(ctx context.Context, s Subject) (int, error) {
	r, err := e.Report(ctx, s)
	if err != nil {
		return 0, err
	}
	return r.Overall, nil
}

// EntityHealth returns the subject's cached health when it is nonzero and
// computes OverallHealth otherwise. Nothing is written back.
func (e *Engine) EntityHealth(ctx context.Context, s Subject) (int, error) {
	if hc, ok := s.(HealthCache); ok {
		if h := hc.CachedHealth(); h != 0 {
			return h, nil
		}
	}
	return e.OverallHealth(ctx, s)
}

func (e *Engine) spec(kind, field string) model.FieldSpec {
	if sp := e.reg.Spec(kind, field); sp != nil {
		return *sp
	}
	// Undeclared fields carry no weight.
	return model.FieldSpec{Name: field, Weight: 0, MaxAge: model.DefaultMaxAgeDays}
}

func (e *Engine) freshness(s Subject, spec model.FieldSpec, last *model.ChangeRecord) int {
	if model.IsBlank(s.Get(spec.Name)) || last == nil {
		return 0
	}
	return Decay(last.ChangedAt, e.now(), spec.MaxAge)
}

func (e *Engine) confidence(ctx context.Context, last *model.ChangeRecord) int {
	if last == nil {
		return 0
	}
	if e.mode == ModeCaptured {
		return last.Confidence
	}
	return e.resolver.Resolve(ctx, last.Source).Score()
}

func (e *Engine) fieldScore(ctx context.Context, s Subject, spec model.FieldSpec, last *model.ChangeRecord) FieldScore {
	fs := FieldScore{
		Field:      spec.Name,
		Weight:     spec.Weight,
		Freshness:  e.freshness(s, spec, last),
		Confidence: e.confidence(ctx, last),
		LastChange: last,
	}
	fs.Health = Combine(fs.Freshness, fs.Confidence, fs.Weight)
	return fs
}

// Decay returns the linear freshness of a change made at changedAt, observed
// at now, for a field that goes stale after maxAge days.
func Decay(changedAt, now time.Time, maxAge float64) int {
	if maxAge <= 0 {
		return 0
	}
	days := now.Sub(changedAt).Hours() / hoursPerDay
	if days < 0 {
		days = 0
	}
	f := 100 - days/maxAge*100
	if f < 0 {
		return 0
	}
	return int(f)
}

// Combine returns the health of a field with freshness f, confidence c and
// weight w.
func Combine(f, c, w int) int {
	if f <= staleFreshness && w >= staleWeight {
		return 0
	}
	return (f + c) / 2
}

func importance(specs []model.FieldSpec) int {
	sum := 0
	for _, sp := range specs {
		sum += sp.Weight
	}
	return sum / len(specs)
}

func logger(ref model.Ref) *zap.Logger {
	return zap.L().With(zap.String("entity", ref.String()))
}
