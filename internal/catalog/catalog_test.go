package catalog

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redkey/pkg/errors"
)

var tableDefColumns = []string{"column", "type", "encoding", "distkey", "sortkey", "notnull"}

func newMockReader(t *testing.T) (*Reader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReader(db, zerolog.Nop()), mock
}

func TestParseQualifiedName(t *testing.T) {
	tests := []struct {
		input   string
		want    QualifiedName
		wantErr bool
	}{
		{input: "cia.bookings", want: QualifiedName{Schema: "cia", Table: "bookings"}},
		{input: " bla.blabla ", want: QualifiedName{Schema: "bla", Table: "blabla"}},
		{input: "bookings", want: QualifiedName{Schema: "public", Table: "bookings"}},
		{input: "cia.", wantErr: true},
		{input: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQualifiedName(tt.input, "public")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQualifiedNameQuoted(t *testing.T) {
	assert.Equal(t, `"cia"."bookings"`, QualifiedName{Schema: "cia", Table: "bookings"}.Quoted())
	assert.Equal(t, `"cia"."we""ird"`, QualifiedName{Schema: "cia", Table: `we"ird`}.Quoted())
	assert.Equal(t, "cia.bookings", QualifiedName{Schema: "cia", Table: "bookings"}.String())
}

func TestSortKeySpec(t *testing.T) {
	t.Run("ascending regardless of insertion order", func(t *testing.T) {
		var spec SortKeySpec
		require.NoError(t, spec.Add(2, "b"))
		require.NoError(t, spec.Add(1, "a"))
		require.NoError(t, spec.Add(3, "c"))
		require.NoError(t, spec.Add(0, "ignored"))

		assert.Equal(t, []string{"a", "b", "c"}, spec.Columns())
		assert.Equal(t, 3, spec.Len())
		assert.False(t, spec.Interleaved())
	})

	t.Run("empty", func(t *testing.T) {
		var spec SortKeySpec
		assert.Empty(t, spec.Columns())
		assert.Equal(t, 0, spec.Len())
	})

	t.Run("interleaved", func(t *testing.T) {
		var spec SortKeySpec
		require.NoError(t, spec.Add(1, "a"))
		require.NoError(t, spec.Add(-2, "b"))
		assert.True(t, spec.Interleaved())
		assert.Equal(t, []string{"a", "b"}, spec.Columns())
	})

	t.Run("duplicate position rejected", func(t *testing.T) {
		var spec SortKeySpec
		require.NoError(t, spec.Add(1, "a"))
		err := spec.Add(1, "b")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidSortKey))
	})
}

func TestTableMetadata(t *testing.T) {
	meta := &TableMetadata{
		Schema: "cia",
		Table:  "bookings",
		Columns: []ColumnMetadata{
			{Name: "id", SQLType: "integer"},
			{Name: "rider_id", SQLType: "integer", DistKey: true},
		},
	}

	assert.Equal(t, "rider_id", meta.CurrentDistKey())
	assert.True(t, meta.HasColumn("id"))
	assert.False(t, meta.HasColumn("driver_id"))
	assert.Equal(t, QualifiedName{Schema: "cia", Table: "bookings"}, meta.Name())

	meta.Columns[1].DistKey = false
	assert.Equal(t, "", meta.CurrentDistKey())
}

func TestReadTable(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves catalog order", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectExec(regexp.QuoteMeta(`SET search_path TO "cia"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM pg_table_def")).
			WithArgs("cia", "bookings").
			WillReturnRows(sqlmock.NewRows(tableDefColumns).
				AddRow("created_at", "timestamp without time zone", "none", false, 2, true).
				AddRow("id", "integer", "lzo", false, 1, true).
				AddRow("rider_id", "integer", nil, true, 0, false).
				AddRow("city", "character varying(64)", "bytedict", false, nil, false))

		meta, err := reader.ReadTable(ctx, "cia", "bookings")
		require.NoError(t, err)

		names := make([]string, 0, len(meta.Columns))
		for _, col := range meta.Columns {
			names = append(names, col.Name)
		}
		assert.Equal(t, []string{"created_at", "id", "rider_id", "city"}, names)
		assert.Equal(t, []string{"id", "created_at"}, meta.SortKey.Columns())
		assert.Equal(t, "rider_id", meta.CurrentDistKey())
		assert.Equal(t, "lzo", meta.Columns[1].Encoding)
		assert.Equal(t, "", meta.Columns[2].Encoding)
		assert.True(t, meta.Columns[0].NotNull)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows is table not found", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectExec("SET search_path").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM pg_table_def").
			WithArgs("cia", "missing").
			WillReturnRows(sqlmock.NewRows(tableDefColumns))

		meta, err := reader.ReadTable(ctx, "cia", "missing")
		assert.Nil(t, meta)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeTableNotFound))
	})

	t.Run("trims padded encodings", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectExec("SET search_path").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM pg_table_def").
			WithArgs("cia", "drivers").
			WillReturnRows(sqlmock.NewRows(tableDefColumns).
				AddRow("id", "integer", "none                            ", true, 1, true).
				AddRow("name", "character varying(64)", "lzo                             ", false, 0, false))

		meta, err := reader.ReadTable(ctx, "cia", "drivers")
		require.NoError(t, err)
		assert.Equal(t, "none", meta.Columns[0].Encoding)
		assert.Equal(t, "lzo", meta.Columns[1].Encoding)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate sort key position", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectExec("SET search_path").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM pg_table_def").
			WillReturnRows(sqlmock.NewRows(tableDefColumns).
				AddRow("a", "integer", "none", false, 1, false).
				AddRow("b", "integer", "none", false, 1, false))

		_, err := reader.ReadTable(ctx, "cia", "bad")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidSortKey))
	})

	t.Run("query failure", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectExec("SET search_path").WillReturnError(fmt.Errorf(`schema "nope" does not exist`))

		_, err := reader.ReadTable(ctx, "nope", "t")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeQueryFailed))
	})
}

func TestReadPrivileges(t *testing.T) {
	ctx := context.Background()

	t.Run("insert grantees are a subset of select grantees", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM pg_user")).
			WithArgs(`"cia"."bookings"`).
			WillReturnRows(sqlmock.NewRows([]string{"usename", "select", "insert"}).
				AddRow("analyst", true, false).
				AddRow("etl", true, true).
				AddRow("reporting", true, false))

		privs, err := reader.ReadPrivileges(ctx, "cia", "bookings")
		require.NoError(t, err)
		assert.Equal(t, []string{"analyst", "etl", "reporting"}, privs.Select)
		assert.Equal(t, []string{"etl"}, privs.Insert)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no grantees", func(t *testing.T) {
		reader, mock := newMockReader(t)

		mock.ExpectQuery("FROM pg_user").
			WillReturnRows(sqlmock.NewRows([]string{"usename", "select", "insert"}))

		privs, err := reader.ReadPrivileges(ctx, "cia", "bookings")
		require.NoError(t, err)
		assert.Empty(t, privs.Select)
		assert.Empty(t, privs.Insert)
	})

	t.Run("query failure", func(t *testing.T) {
		reader, mock := newMockReader(t)
		mock.ExpectQuery("FROM pg_user").WillReturnError(fmt.Errorf("connection reset"))

		_, err := reader.ReadPrivileges(ctx, "cia", "bookings")
		assert.True(t, errors.HasCode(err, errors.ErrCodeQueryFailed))
	})
}

func TestRowCount(t *testing.T) {
	reader, mock := newMockReader(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "cia"."bookings"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := reader.RowCount(context.Background(), "cia", "bookings")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(fmt.Errorf("relation does not exist"))
	_, err = reader.RowCount(context.Background(), "cia", "gone")
	assert.True(t, errors.HasCode(err, errors.ErrCodeQueryFailed))
}
