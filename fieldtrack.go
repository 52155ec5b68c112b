// Package fieldtrack tracks the provenance of entity fields and scores how
// fresh, trusted and healthy their values are.
//
// Entity types declare their tracked fields with a weight and a max age.
// Every committed change to a tracked field appends an immutable change
// record; scores are computed from the latest record of each field.
package fieldtrack

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldtrack/internal/config"
	"github.com/sells-group/fieldtrack/internal/model"
	"github.com/sells-group/fieldtrack/internal/registry"
	"github.com/sells-group/fieldtrack/internal/resilience"
	"github.com/sells-group/fieldtrack/internal/scoring"
	"github.com/sells-group/fieldtrack/internal/source"
	"github.com/sells-group/fieldtrack/internal/store"
	"github.com/sells-group/fieldtrack/internal/tracker"
)

// --- Types ---

type (
	// Config is the library configuration.
	Config = config.Config
	// Ref identifies an entity or a change source.
	Ref = model.Ref
	// FieldSpec declares a tracked field.
	FieldSpec = model.FieldSpec
	// FieldSpecOption customizes a FieldSpec.
	FieldSpecOption = model.FieldSpecOption
	// ChangeRecord is one audit entry.
	ChangeRecord = model.ChangeRecord
	// ConfigurationError reports an invalid declaration.
	ConfigurationError = model.ConfigurationError
	// ValidationError reports per-field validation messages.
	ValidationError = model.ValidationError

	// Registry holds field declarations per entity type.
	Registry = registry.Registry
	// ChangeLog persists change records.
	ChangeLog = store.ChangeLog
	// Resolver looks up the confidence of a change source.
	Resolver = source.Resolver
	// Resolution is the result of resolving a source.
	Resolution = source.Resolution

	// Engine computes scores.
	Engine = scoring.Engine
	// Report holds every score of one entity.
	Report = scoring.Report
	// FieldScore holds the scores of one field.
	FieldScore = scoring.FieldScore

	// Entity is a tracked record.
	Entity = tracker.Entity
	// EntityStore persists tracked records.
	EntityStore = tracker.EntityStore
	// Tracker commits mutations and logs their changes.
	Tracker = tracker.Tracker
	// Mutation stages attribute changes on an entity.
	Mutation = tracker.Mutation
	// UnauditedError reports a saved commit whose changes were not logged.
	UnauditedError = tracker.UnauditedError
)

// ErrDegenerateAggregate is returned by entity-level aggregates of a type
// with no declared fields.
var ErrDegenerateAggregate = model.ErrDegenerateAggregate

// NewRef creates a Ref.
func NewRef(kind, id string) Ref { return model.NewRef(kind, id) }

// NewFieldSpec creates a FieldSpec with default weight and max age.
func NewFieldSpec(name string, opts ...FieldSpecOption) (FieldSpec, error) {
	return model.NewFieldSpec(name, opts...)
}

// WithWeight sets a field's weight, in [1,100].
func WithWeight(w int) FieldSpecOption { return model.WithWeight(w) }

// WithMaxAge sets the days after which a field's freshness reaches 0.
func WithMaxAge(days float64) FieldSpecOption { return model.WithMaxAge(days) }

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry { return registry.New() }

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg config.LogConfig) error { return config.InitLogger(cfg) }

// IsUnaudited reports whether err is an UnauditedError.
func IsUnaudited(err error) bool { return tracker.IsUnaudited(err) }

// LoadConfig reads configuration from ./config.yaml and FIELDTRACK_*
// environment variables.
func LoadConfig() (*Config, error) { return config.Load() }

// --- Factory ---

// Option configures Open.
type Option func(*options)

type options struct {
	registry *registry.Registry
	resolver source.Resolver
	changes  store.ChangeLog
	now      func() time.Time
}

// WithRegistry uses reg for field declarations. Declarations from the
// configured specs file are added to it.
func WithRegistry(reg *Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithResolver sets the source resolver used for confidence.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithChangeLog uses cl instead of opening the configured store. The caller
// keeps ownership of cl.
func WithChangeLog(cl ChangeLog) Option {
	return func(o *options) { o.changes = cl }
}

// WithClock overrides the time source used for scoring and confirmations.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// System bundles the components wired by Open.
type System struct {
	Registry *Registry
	Changes  ChangeLog
	Engine   *Engine
	Tracker  *Tracker

	ownsChanges bool
}

// Open validates cfg, opens and migrates the change log, loads field
// declarations and wires the scoring engine and tracker around entities.
// A non-empty cfg.Log replaces the global zap logger.
func Open(ctx context.Context, cfg *Config, entities EntityStore, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, eris.New("fieldtrack: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log != (config.LogConfig{}) {
		if err := config.InitLogger(cfg.Log); err != nil {
			return nil, err
		}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reg := o.registry
	if reg == nil {
		reg = registry.New()
	}
	if cfg.Tracking.SpecsPath != "" {
		if err := reg.LoadFile(cfg.Tracking.SpecsPath); err != nil {
			return nil, err
		}
	}
	if len(reg.Kinds()) == 0 {
		return nil, &model.ConfigurationError{Reason: "no entity types registered"}
	}

	sys := &System{Registry: reg, Changes: o.changes}
	if sys.Changes == nil {
		cl, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, eris.Wrap(err, "fieldtrack: open change log")
		}
		sys.Changes = cl
		sys.ownsChanges = true
	}

	mode := scoring.Mode(cfg.Tracking.ConfidenceMode)
	if mode == "" {
		mode = scoring.ModeLive
	}
	engineOpts := []scoring.Option{
		scoring.WithConfidenceMode(mode),
		scoring.WithConcurrency(cfg.Tracking.ReportConcurrency),
	}
	if o.now != nil {
		engineOpts = append(engineOpts, scoring.WithClock(o.now))
	}
	sys.Engine = scoring.New(reg, sys.Changes, o.resolver, engineOpts...)
	sys.Tracker = tracker.New(sys.Engine, sys.Changes, entities,
		tracker.WithRetry(resilience.FromConfig(cfg.Retry)),
	)

	zap.L().Info("fieldtrack ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("entity_types", reg.Kinds()),
		zap.String("confidence_mode", string(mode)),
	)
	return sys, nil
}

// Close closes the change log if Open opened it.
func (s *System) Close() error {
	if s == nil || !s.ownsChanges || s.Changes == nil {
		return nil
	}
	return s.Changes.Close()
}
