// Package store persists the append-only change log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldtrack/internal/config"
	"github.com/sells-group/fieldtrack/internal/model"
)

// ChangeLog is the persistence interface for change records. Records are
// keyed by the owning entity and never updated; reads order by changed_at
// descending with ties broken by insertion order, newest first.
type ChangeLog interface {
	// Append validates and stores one record, assigning its Seq.
	Append(ctx context.Context, rec *model.ChangeRecord) error
	// AppendBatch stores all records or none. Every record is validated
	// before anything is written.
	AppendBatch(ctx context.Context, recs []model.ChangeRecord) error

	// Latest returns the most recent record for (entity, field), or nil.
	Latest(ctx context.Context, entity model.Ref, field string) (*model.ChangeRecord, error)
	// AllFor returns every record for (entity, field), newest first.
	AllFor(ctx context.Context, entity model.Ref, field string) ([]model.ChangeRecord, error)

	// DeleteFor removes every record owned by entity and returns the count.
	DeleteFor(ctx context.Context, entity model.Ref) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the ChangeLog selected by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (ChangeLog, error) {
	var (
		s   ChangeLog
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = NewMemory()
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "fieldtrack.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func validateAll(recs []model.ChangeRecord) error {
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
