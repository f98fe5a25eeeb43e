package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incident-sync/internal/record"
)

func newTestSQLite(t *testing.T, opts ...SQLiteOption) *SQLite {
	t.Helper()

	st, err := NewSQLite(":memory:", "incidents", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(`CREATE TABLE incidents (
		incident_id INTEGER,
		report_date DATETIME,
		address TEXT,
		city TEXT,
		severity INTEGER,
		loss_amount REAL
	)`)
	require.NoError(t, err)
	return st
}

func seedIncident(t *testing.T, st *SQLite, id int64, date, address string) {
	t.Helper()
	_, err := st.DB().Exec(
		"INSERT INTO incidents (incident_id, report_date, address, city, severity) VALUES (?, ?, ?, ?, ?)",
		id, date, address, "Springfield", 2,
	)
	require.NoError(t, err)
}

func TestSQLiteSchema(t *testing.T) {
	st := newTestSQLite(t)

	schema, err := st.Schema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "rowid", schema.RowID)

	kind, ok := schema.Kind("incident_id")
	require.True(t, ok)
	assert.Equal(t, record.KindInteger, kind)

	kind, _ = schema.Kind("report_date")
	assert.Equal(t, record.KindDate, kind)

	kind, _ = schema.Kind("address")
	assert.Equal(t, record.KindString, kind)

	kind, _ = schema.Kind("loss_amount")
	assert.Equal(t, record.KindFloat, kind)

	assert.False(t, schema.Has("nonexistent"))
}

func TestSQLiteSchemaMissingTable(t *testing.T) {
	st, err := NewSQLite(":memory:", "nope")
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Schema(context.Background())
	assert.Error(t, err)
}

func TestSQLiteQuery(t *testing.T) {
	st := newTestSQLite(t)
	seedIncident(t, st, 42, "2021-05-01 08:00:00", "10 Main St")
	seedIncident(t, st, 7, "2021-06-01 09:30:00", "20 Oak St")

	recs, err := st.Query(context.Background(), "incident_id = 42", []string{"incident_id", "report_date", "address"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.False(t, rec.Value("rowid").IsNull())
	assert.Equal(t, int64(42), rec.Value("incident_id").IntVal())
	assert.Equal(t, "10 Main St", rec.Value("address").Str())

	date := rec.Value("report_date")
	require.Equal(t, record.KindDate, date.Kind())
	want := time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC)
	assert.True(t, date.Time().Equal(want), "got %v", date.Time())
}

func TestSQLiteQueryIDs(t *testing.T) {
	st := newTestSQLite(t)
	seedIncident(t, st, 42, "2021-05-01 08:00:00", "10 Main St")
	seedIncident(t, st, 7, "2021-06-01 09:30:00", "20 Oak St")
	_, err := st.DB().Exec("INSERT INTO incidents (incident_id) VALUES (NULL)")
	require.NoError(t, err)

	ids, err := st.QueryIDs(context.Background(), "incident_id")
	require.NoError(t, err)

	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "42")
	assert.Contains(t, ids, "7")
}

func TestSQLiteInsertAndUpdate(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	rec := record.NewRecord([]string{"incident_id", "report_date", "address", "city", "severity"})
	rec.Set("incident_id", record.Int(42))
	rec.Set("report_date", record.Date(time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC)))
	rec.Set("address", record.String("10 Main St"))
	rec.Set("city", record.String("Springfield"))
	rec.Set("severity", record.Int(2))

	res, err := st.InsertBatch(ctx, []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.False(t, res.Failed())

	recs, err := st.Query(ctx, "incident_id = 42", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2021-05-01 08:00:00", recs[0].Value("report_date").Time().Format(sqliteTimeLayout))

	// Patch severity through the rowid the query returned.
	patched := recs[0].Clone()
	patched.Set("severity", record.Int(5))
	res, err = st.UpdateBatch(ctx, []*record.Record{patched})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	recs, err = st.Query(ctx, "incident_id = 42", []string{"severity"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].Value("severity").IntVal())
}

func TestSQLiteUpdateRequiresRowID(t *testing.T) {
	st := newTestSQLite(t)

	rec := record.NewRecord([]string{"severity"})
	rec.Set("severity", record.Int(5))

	res, err := st.UpdateBatch(context.Background(), []*record.Record{rec})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 0, res.Failures[0].Index)
	assert.True(t, res.Failed())
}

func TestSQLiteInsertSkipsUnknownFields(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	rec := record.NewRecord([]string{"incident_id", "not_a_column"})
	rec.Set("incident_id", record.Int(1))
	rec.Set("not_a_column", record.String("ignored"))

	res, err := st.InsertBatch(ctx, []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
}

func TestSQLiteDeleteWhere(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	seedIncident(t, st, 42, "2021-05-01 08:00:00", "10 Main St")
	seedIncident(t, st, 7, "2021-06-01 09:30:00", "20 Oak St")

	n, err := st.DeleteWhere(ctx, "incident_id = 42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := st.QueryIDs(ctx, "incident_id")
	require.NoError(t, err)
	assert.NotContains(t, ids, "42")

	_, err = st.DeleteWhere(ctx, "")
	assert.Error(t, err)
}

func TestSQLiteDateRoundTripNonUTC(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	st := newTestSQLite(t, WithTimeLocation(chicago))
	ctx := context.Background()

	reported := time.Date(2021, 5, 1, 8, 30, 0, 0, chicago)
	rec := record.NewRecord([]string{"incident_id", "report_date"})
	rec.Set("incident_id", record.Int(42))
	rec.Set("report_date", record.Date(reported))

	res, err := st.InsertBatch(ctx, []*record.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, res.SuccessCount)

	// The stored text is wall clock in the configured location.
	var raw string
	require.NoError(t, st.DB().QueryRow("SELECT report_date FROM incidents").Scan(&raw))
	assert.Equal(t, "2021-05-01 08:30:00", raw)

	recs, err := st.Query(ctx, "incident_id = 42", []string{"incident_id", "report_date"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0].Value("report_date").Time()
	assert.True(t, got.Equal(reported), "want %s, got %s", reported, got)
}

func TestSQLiteSeededLocalDateReadsInLocation(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	st := newTestSQLite(t, WithTimeLocation(chicago))
	seedIncident(t, st, 7, "2021-06-01 09:30:00", "20 Oak St")

	recs, err := st.Query(context.Background(), "incident_id = 7", []string{"incident_id", "report_date"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0].Value("report_date").Time()
	assert.True(t, got.Equal(time.Date(2021, 6, 1, 9, 30, 0, 0, chicago)))
}
