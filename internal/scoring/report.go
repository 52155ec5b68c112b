package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fieldtrack/internal/model"
)

// FieldScore holds the scores of one declared field.
type FieldScore struct {
	Field      string              `json:"field"`
	Weight     int                 `json:"weight"`
	Freshness  int                 `json:"freshness"`
	Confidence int                 `json:"confidence"`
	Health     int                 `json:"health"`
	LastChange *model.ChangeRecord `json:"last_change,omitempty"`
}

// Report holds every per-field score of an entity and its aggregates.
type Report struct {
	Entity     model.Ref    `json:"entity"`
	Fields     []FieldScore `json:"fields"`
	Freshness  int          `json:"freshness"`
	Confidence int          `json:"confidence"`
	Importance int          `json:"importance"`
	Overall    int          `json:"overall"`
	ScoredAt   time.Time    `json:"scored_at"`
}

// Field returns the score of the named field, or nil if it is not declared.
func (r *Report) Field(name string) *FieldScore {
	for i := range r.Fields {
		if r.Fields[i].Field == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// Report scores every declared field of s in one pass. Latest changes are
// fetched concurrently; all scores use the same clock reading.
func (e *Engine) Report(ctx context.Context, s Subject) (*Report, error) {
	ref := s.Ref()
	specs := e.reg.Specs(ref.Kind)
	if len(specs) == 0 {
		return nil, eris.Wrapf(model.ErrDegenerateAggregate, "scoring: %s declares no fields", ref.Kind)
	}

	latest := make([]*model.ChangeRecord, len(specs))
	if !ref.IsNew() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i, sp := range specs {
			g.Go(func() error {
				rec, err := e.LatestFor(gctx, ref, sp.Name)
				if err != nil {
					return err
				}
				latest[i] = rec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	now := e.now()
	frozen := *e
	frozen.now = func() time.Time { return now }

	r := &Report{
		Entity:   ref,
		Fields:   make([]FieldScore, len(specs)),
		ScoredAt: now,
	}
	var freshSum, confSum int
	for i, sp := range specs {
		fs := frozen.fieldScore(ctx, s, sp, latest[i])
		r.Fields[i] = fs
		freshSum += fs.Freshness
		confSum += fs.Confidence
	}
	r.Freshness = freshSum / len(specs)
	r.Confidence = confSum / len(specs)
	r.Importance = importance(specs)
	if r.Importance == 0 {
		return nil, eris.Wrapf(model.ErrDegenerateAggregate, "scoring: %s", ref.Kind)
	}
	r.Overall = r.Confidence * r.Freshness / r.Importance

	logger(ref).Debug("scored entity",
		zap.Int("fields", len(specs)),
		zap.Int("freshness", r.Freshness),
		zap.Int("confidence", r.Confidence),
		zap.Int("importance", r.Importance),
		zap.Int("overall", r.Overall),
	)
	return r, nil
}
