package rekey

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redkey/internal/catalog"
	"redkey/internal/testutil"
	"redkey/internal/warehouse"
	"redkey/pkg/errors"
)

func setup(t *testing.T) (*Runner, *testutil.MockCatalog, *testutil.MockWarehouse) {
	t.Helper()
	h := testutil.NewTestHelper(t)

	cat := testutil.NewMockCatalog()
	cat.AddTable(h.Table("cia", "fraud_booking_v2_flags", [][2]string{
		{"booking_id", "bigint"},
		{"driver_id", "integer"},
		{"flagged_at", "timestamp without time zone"},
	}, "flagged_at", "booking_id"), 5)
	cat.Privileges["cia.fraud_booking_v2_flags"] = &catalog.PrivilegeSet{
		Select: []string{"analyst", "etl", "reporting"},
		Insert: []string{"etl"},
	}

	wh := testutil.NewMockWarehouse()
	return NewRunner(cat, wh, zerolog.Nop()), cat, wh
}

func TestRunWithoutSwap(t *testing.T) {
	runner, _, wh := setup(t)

	result, err := runner.Run(context.Background(), Request{
		Schema:  "cia",
		Table:   "fraud_booking_v2_flags",
		DistKey: "driver_id",
	})
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.False(t, result.Swapped)
	assert.Equal(t, catalog.QualifiedName{Schema: "cia", Table: "fraud_booking_v2_flags_temp"}, result.Final)

	require.Len(t, wh.Executed, 2)
	assert.Contains(t, wh.Executed[0], `CREATE TABLE "cia"."fraud_booking_v2_flags_temp"`)
	assert.Contains(t, wh.Executed[0], `distkey("driver_id")`)
	assert.Contains(t, wh.Executed[0], `sortkey("flagged_at", "booking_id")`)
	assert.Contains(t, wh.Executed[0], `INSERT INTO "cia"."fraud_booking_v2_flags_temp" SELECT * FROM "cia"."fraud_booking_v2_flags";`)
	assert.Equal(t,
		`GRANT SELECT ON "cia"."fraud_booking_v2_flags_temp" TO "analyst", "etl", "reporting";`+"\n"+
			`GRANT INSERT ON "cia"."fraud_booking_v2_flags_temp" TO "etl";`,
		wh.Executed[1])
	assert.Empty(t, wh.Containing("DROP TABLE"))
}

func TestRunWithSwap(t *testing.T) {
	runner, cat, wh := setup(t)
	cat.RowCounts["cia.fraud_booking_v2_flags_temp"] = 5

	result, err := runner.Run(context.Background(), Request{
		Schema:  "cia",
		Table:   "fraud_booking_v2_flags",
		DistKey: "driver_id",
		Swap:    true,
	})
	require.NoError(t, err)

	assert.True(t, result.Swapped)
	assert.Equal(t, int64(5), result.Rows)
	assert.Equal(t, catalog.QualifiedName{Schema: "cia", Table: "fraud_booking_v2_flags"}, result.Final)

	require.Len(t, wh.Executed, 3)
	assert.Equal(t,
		`DROP TABLE "cia"."fraud_booking_v2_flags";`+"\n"+
			`ALTER TABLE "cia"."fraud_booking_v2_flags_temp" RENAME TO "fraud_booking_v2_flags";`,
		wh.Executed[1])
	assert.Contains(t, wh.Executed[2], `GRANT SELECT ON "cia"."fraud_booking_v2_flags" TO`)
}

func TestSwapRefusedOnRowCountMismatch(t *testing.T) {
	runner, cat, wh := setup(t)
	cat.RowCounts["cia.fraud_booking_v2_flags_temp"] = 4

	result, err := runner.Run(context.Background(), Request{
		Schema: "cia",
		Table:  "fraud_booking_v2_flags",
		Swap:   true,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRowCountMismatch))
	assert.True(t, result.Applied)
	assert.False(t, result.Swapped)

	// the original table is never dropped
	assert.Empty(t, wh.Containing("DROP TABLE"))
	assert.Empty(t, wh.Containing("GRANT"))
}

func TestDryRun(t *testing.T) {
	runner, _, wh := setup(t)

	result, err := runner.Run(context.Background(), Request{
		Schema:  "cia",
		Table:   "fraud_booking_v2_flags",
		DistKey: "driver_id",
		Swap:    true,
		DryRun:  true,
	})
	require.NoError(t, err)

	assert.Empty(t, wh.Executed)
	assert.False(t, result.Applied)

	script := result.Script()
	assert.Contains(t, script, "CREATE TABLE")
	assert.Contains(t, script, "INSERT INTO")
	assert.Contains(t, script, "RENAME TO")
	assert.True(t, strings.HasSuffix(script, `GRANT INSERT ON "cia"."fraud_booking_v2_flags" TO "etl";`))
}

func TestNoGrantsWhenNobodyHasAccess(t *testing.T) {
	runner, cat, wh := setup(t)
	cat.Privileges["cia.fraud_booking_v2_flags"] = &catalog.PrivilegeSet{}

	result, err := runner.Run(context.Background(), Request{Schema: "cia", Table: "fraud_booking_v2_flags"})
	require.NoError(t, err)

	assert.Empty(t, result.Grants)
	assert.Len(t, wh.Executed, 1)
}

func TestTableNotFound(t *testing.T) {
	runner, _, wh := setup(t)

	_, err := runner.Run(context.Background(), Request{Schema: "cia", Table: "missing"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTableNotFound))
	assert.Empty(t, wh.Executed)
}

func TestInvalidRequest(t *testing.T) {
	runner, _, _ := setup(t)

	_, err := runner.Run(context.Background(), Request{Table: "t"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestUnknownDistKeyReachesWarehouse(t *testing.T) {
	runner, _, wh := setup(t)
	wh.FailOn[`distkey("nope")`] = fmt.Errorf(`column "nope" does not exist`)

	_, err := runner.Run(context.Background(), Request{Schema: "cia", Table: "fraud_booking_v2_flags", DistKey: "nope"})
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrCodeDDLExecution, appErr.Code)
	assert.Contains(t, appErr.Context["statement"], `distkey("nope")`)
}

func TestRunAgainstWarehouse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := warehouse.NewServiceWithDB("main_cluster", db, zerolog.Nop())
	runner := NewRunner(catalog.NewReader(db, zerolog.Nop()), svc, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta(`SET search_path TO "cia"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM pg_table_def").
		WithArgs("cia", "t").
		WillReturnRows(sqlmock.NewRows([]string{"column", "type", "encoding", "distkey", "sortkey", "notnull"}).
			AddRow("id", "integer", "none", true, 1, true).
			AddRow("driver_id", "integer", "none", false, 0, false))
	mock.ExpectQuery("FROM pg_user").
		WithArgs(`"cia"."t"`).
		WillReturnRows(sqlmock.NewRows([]string{"usename", "select", "insert"}).AddRow("analyst", true, false))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "cia"."t_temp"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "cia"."t_temp" SELECT * FROM "cia"."t"`)).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "cia"."t"`)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "cia"."t_temp"`)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE "cia"."t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "cia"."t_temp" RENAME TO "t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`GRANT SELECT ON "cia"."t" TO "analyst"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := runner.Run(context.Background(), Request{Schema: "cia", Table: "t", DistKey: "driver_id", Swap: true})
	require.NoError(t, err)
	assert.True(t, result.Swapped)
	assert.Equal(t, "id", result.Metadata.CurrentDistKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}
