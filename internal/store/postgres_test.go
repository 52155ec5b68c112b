package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldtrack/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var pgColumns = []string{"seq", "id", "entity_type", "entity_id", "source_type", "source_id", "field_name", "confidence", "new_value", "changed_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS change_records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	r := rec(person, "name", "Ann", &admin, 40, t0)
	mock.ExpectQuery(`(?s)INSERT INTO change_records .* RETURNING seq`).
		WithArgs(r.ID, "person", "42",
			pgtype.Text{String: "admin", Valid: true}, pgtype.Text{String: "1", Valid: true},
			"name", 40, "Ann", t0).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	require.NoError(t, s.Append(context.Background(), &r))
	assert.Equal(t, int64(7), r.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	r := rec(person, "", "Ann", nil, 100, t0)
	err := s.Append(context.Background(), &r)
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"change_records"}, changeRecordColumns).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.AppendBatch(context.Background(), []model.ChangeRecord{
		rec(person, "name", "Ann", nil, 100, t0),
		rec(person, "email", "a@b.c", nil, 100, t0),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendBatch_CopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"change_records"}, changeRecordColumns).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.AppendBatch(context.Background(), []model.ChangeRecord{rec(person, "name", "Ann", nil, 100, t0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendBatch_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.AppendBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Latest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := t0.Add(time.Hour)
	mock.ExpectQuery(`(?s)SELECT seq, id, entity_type.*WHERE entity_type = \$1 AND entity_id = \$2 AND field_name = \$3.*ORDER BY changed_at DESC, seq DESC LIMIT 1`).
		WithArgs("person", "42", "name").
		WillReturnRows(pgxmock.NewRows(pgColumns).
			AddRow(int64(3), "rec-3", "person", "42",
				pgtype.Text{String: "admin", Valid: true}, pgtype.Text{String: "1", Valid: true},
				"name", 40, pgtype.Text{String: "Bob", Valid: true}, at))

	got, err := s.Latest(context.Background(), person, "name")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Seq)
	assert.Equal(t, "Bob", got.NewValue)
	assert.Equal(t, 40, got.Confidence)
	require.NotNil(t, got.Source)
	assert.Equal(t, admin, *got.Source)
	assert.True(t, got.ChangedAt.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Latest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT seq, id, entity_type`).
		WithArgs("person", "42", "name").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.Latest(context.Background(), person, "name")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AllFor(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT seq, id, entity_type.*ORDER BY changed_at DESC, seq DESC`).
		WithArgs("person", "42", "name").
		WillReturnRows(pgxmock.NewRows(pgColumns).
			AddRow(int64(2), "rec-2", "person", "42", pgtype.Text{}, pgtype.Text{}, "name", 100, pgtype.Text{String: "Bob", Valid: true}, t0.Add(time.Hour)).
			AddRow(int64(1), "rec-1", "person", "42", pgtype.Text{}, pgtype.Text{}, "name", 100, pgtype.Text{String: "Ann", Valid: true}, t0))

	all, err := s.AllFor(context.Background(), person, "name")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Bob", all[0].NewValue)
	assert.Nil(t, all[0].Source)
	assert.Equal(t, "Ann", all[1].NewValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteFor(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM change_records WHERE entity_type = \$1 AND entity_id = \$2`).
		WithArgs("person", "42").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := s.DeleteFor(context.Background(), person)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteFor_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM change_records`).
		WithArgs("person", "42").
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.DeleteFor(context.Background(), person)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete change records for person:42")
	assert.NoError(t, mock.ExpectationsWereMet())
}
