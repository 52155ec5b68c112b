package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldtrack/internal/db"
	"github.com/sells-group/fieldtrack/internal/model"
)

// PostgresStore implements ChangeLog using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var changeRecordColumns = []string{
	"id", "entity_type", "entity_id", "source_type", "source_id",
	"field_name", "confidence", "new_value", "changed_at",
}

const postgresSelectColumns = `seq, id, entity_type, entity_id, source_type, source_id, field_name, confidence, new_value, changed_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS change_records (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	source_type TEXT,
	source_id   TEXT,
	field_name  TEXT NOT NULL,
	confidence  INTEGER NOT NULL,
	new_value   TEXT,
	changed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_records_latest
	ON change_records(entity_type, entity_id, field_name, changed_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_change_records_source
	ON change_records(source_type, source_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec *model.ChangeRecord) error {
	if err := rec.Validate(); err != nil {
		return eris.Wrap(err, "postgres: append")
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO change_records (id, entity_type, entity_id, source_type, source_id, field_name, confidence, new_value, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`,
		recordArgs(rec)...,
	).Scan(&rec.Seq)
	return eris.Wrapf(err, "postgres: insert change record %s.%s", rec.Entity, rec.FieldName)
}

// AppendBatch copies the records inside a transaction. Seq is not assigned
// on the passed records; it is populated on reads.
func (s *PostgresStore) AppendBatch(ctx context.Context, recs []model.ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := validateAll(recs); err != nil {
		return eris.Wrap(err, "postgres: append batch")
	}

	rows := make([][]any, len(recs))
	for i := range recs {
		rows[i] = recordArgs(&recs[i])
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.CopyFrom(ctx, tx, "change_records", changeRecordColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: append batch")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit append batch")
}

func (s *PostgresStore) Latest(ctx context.Context, entity model.Ref, field string) (*model.ChangeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresSelectColumns+` FROM change_records
		 WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3
		 ORDER BY changed_at DESC, seq DESC LIMIT 1`,
		entity.Kind, entity.ID, field,
	)
	rec, err := scanPgChangeRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest change record")
	}
	return rec, nil
}

func (s *PostgresStore) AllFor(ctx context.Context, entity model.Ref, field string) ([]model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresSelectColumns+` FROM change_records
		 WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3
		 ORDER BY changed_at DESC, seq DESC`,
		entity.Kind, entity.ID, field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list change records")
	}
	defer rows.Close()

	var out []model.ChangeRecord
	for rows.Next() {
		rec, err := scanPgChangeRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan change record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list change records iterate")
}

func (s *PostgresStore) DeleteFor(ctx context.Context, entity model.Ref) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM change_records WHERE entity_type = $1 AND entity_id = $2`,
		entity.Kind, entity.ID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete change records for %s", entity)
	}
	return int(tag.RowsAffected()), nil
}

func recordArgs(rec *model.ChangeRecord) []any {
	var srcType, srcID pgtype.Text
	if rec.HasSource() {
		srcType = pgtype.Text{String: rec.Source.Kind, Valid: true}
		srcID = pgtype.Text{String: rec.Source.ID, Valid: true}
	}
	return []any{
		rec.ID, rec.Entity.Kind, rec.Entity.ID, srcType, srcID,
		rec.FieldName, rec.Confidence, rec.NewValue, rec.ChangedAt,
	}
}

func scanPgChangeRecord(row pgx.Row) (*model.ChangeRecord, error) {
	var (
		rec            model.ChangeRecord
		srcType, srcID pgtype.Text
		newValue       pgtype.Text
	)
	err := row.Scan(&rec.Seq, &rec.ID, &rec.Entity.Kind, &rec.Entity.ID, &srcType, &srcID,
		&rec.FieldName, &rec.Confidence, &newValue, &rec.ChangedAt)
	if err != nil {
		return nil, err
	}
	if srcType.Valid && srcID.Valid {
		rec.Source = &model.Ref{Kind: srcType.String, ID: srcID.String}
	}
	rec.NewValue = newValue.String
	rec.ChangedAt = rec.ChangedAt.UTC()
	return &rec, nil
}
