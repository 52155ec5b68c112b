package store

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fieldtrack/internal/model"
)

// SQLiteStore implements ChangeLog using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// connPragmas are per-connection settings, so they travel in the DSN and
// apply to every connection the pool opens.
var connPragmas = []string{"busy_timeout(5000)", "synchronous(NORMAL)"}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: exec PRAGMA journal_mode=WAL")
	}
	return &SQLiteStore{db: db}, nil
}

func withPragmas(dsn string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

// changed_at is stored as unix nanoseconds so ordering is numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS change_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	source_type TEXT,
	source_id   TEXT,
	field_name  TEXT NOT NULL,
	confidence  INTEGER NOT NULL,
	new_value   TEXT,
	changed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_records_latest
	ON change_records(entity_type, entity_id, field_name, changed_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_change_records_source
	ON change_records(source_type, source_id);
`

const sqliteSelectColumns = `seq, id, entity_type, entity_id, source_type, source_id, field_name, confidence, new_value, changed_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, rec *model.ChangeRecord) error {
	if err := rec.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: append")
	}
	return s.insert(ctx, s.db, rec)
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, recs []model.ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := validateAll(recs); err != nil {
		return eris.Wrap(err, "sqlite: append batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append batch")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range recs {
		if err := s.insert(ctx, tx, &recs[i]); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append batch")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insert(ctx context.Context, ex execer, rec *model.ChangeRecord) error {
	var srcType, srcID sql.NullString
	if rec.HasSource() {
		srcType = sql.NullString{String: rec.Source.Kind, Valid: true}
		srcID = sql.NullString{String: rec.Source.ID, Valid: true}
	}

	res, err := ex.ExecContext(ctx,
		`INSERT INTO change_records (id, entity_type, entity_id, source_type, source_id, field_name, confidence, new_value, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Entity.Kind, rec.Entity.ID, srcType, srcID,
		rec.FieldName, rec.Confidence, rec.NewValue, rec.ChangedAt.UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert change record %s.%s", rec.Entity, rec.FieldName)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	rec.Seq = seq
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, entity model.Ref, field string) (*model.ChangeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM change_records
		 WHERE entity_type = ? AND entity_id = ? AND field_name = ?
		 ORDER BY changed_at DESC, seq DESC LIMIT 1`,
		entity.Kind, entity.ID, field,
	)
	rec, err := scanChangeRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest change record")
	}
	return rec, nil
}

func (s *SQLiteStore) AllFor(ctx context.Context, entity model.Ref, field string) ([]model.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM change_records
		 WHERE entity_type = ? AND entity_id = ? AND field_name = ?
		 ORDER BY changed_at DESC, seq DESC`,
		entity.Kind, entity.ID, field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list change records")
	}
	defer rows.Close()

	var out []model.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list change records iterate")
}

func (s *SQLiteStore) DeleteFor(ctx context.Context, entity model.Ref) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM change_records WHERE entity_type = ? AND entity_id = ?`,
		entity.Kind, entity.ID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete change records for %s", entity)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanChangeRecord(row scannable) (*model.ChangeRecord, error) {
	var (
		rec            model.ChangeRecord
		srcType, srcID sql.NullString
		newValue       sql.NullString
		changedAtNanos int64
	)
	err := row.Scan(&rec.Seq, &rec.ID, &rec.Entity.Kind, &rec.Entity.ID, &srcType, &srcID,
		&rec.FieldName, &rec.Confidence, &newValue, &changedAtNanos)
	if err != nil {
		return nil, err
	}
	if srcType.Valid && srcID.Valid {
		rec.Source = &model.Ref{Kind: srcType.String, ID: srcID.String}
	}
	rec.NewValue = newValue.String
	rec.ChangedAt = time.Unix(0, changedAtNanos).UTC()
	return &rec, nil
}
