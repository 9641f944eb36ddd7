package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/remote"
	"github.com/colascope/colascope/pkg/remote/remotetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSetup(t *testing.T) (*localstore.Store, *remote.Client, *remotetest.Server) {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "consolidated.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	fake, err := remotetest.New()
	require.NoError(t, err)
	t.Cleanup(fake.Close)

	rc := remote.New(config.Remote{AccountID: "a", DatabaseID: "d", APIToken: "t"},
		5*time.Second, testLogger())
	rc.SetBaseURL(fake.URL)
	return local, rc, fake
}

func seedLocal(t *testing.T, local *localstore.Store, n int, m cola.Month) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		r := &cola.Record{
			TTBID:        fmt.Sprintf("%02d%03d00%07d", m.Year%100, m.Month, i),
			BrandName:    "Old Tom's",
			CompanyName:  "O'Brien & Sons",
			ApprovalDate: fmt.Sprintf("%02d/15/%04d", m.Month, m.Year),
		}
		r.DeriveDate()
		require.NoError(t, local.UpsertRecord(ctx, r))
	}
}

func remoteCount(t *testing.T, fake *remotetest.Server) int {
	t.Helper()
	var n int
	require.NoError(t, fake.DB.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n))
	return n
}

func TestIncrementalSync_Idempotent(t *testing.T) {
	local, rc, fake := testSetup(t)
	seedLocal(t, local, 30, cola.Month{Year: 2013, Month: 1})
	seedLocal(t, local, 20, cola.Month{Year: 2013, Month: 2})
	s := New(local, rc, testLogger())
	ctx := context.Background()

	stats, err := s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.RecordsSent)
	assert.Equal(t, 50, remoteCount(t, fake))

	// Second run: every month's remote count already matches, nothing sent,
	// row count unchanged.
	stats, err = s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsSent)
	assert.Equal(t, 2, stats.MonthsSkipped)
	assert.Equal(t, 50, remoteCount(t, fake))
}

func TestIncrementalSync_SendsOnlyTrailingMonths(t *testing.T) {
	local, rc, fake := testSetup(t)
	seedLocal(t, local, 10, cola.Month{Year: 2014, Month: 3})
	s := New(local, rc, testLogger())
	ctx := context.Background()

	_, err := s.IncrementalSync(ctx)
	require.NoError(t, err)

	// New local records for a later month appear; the already-synced month
	// is skipped.
	seedLocal(t, local, 5, cola.Month{Year: 2014, Month: 4})
	stats, err := s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.RecordsSent)
	assert.Equal(t, 1, stats.MonthsSkipped)
	assert.Equal(t, 15, remoteCount(t, fake))
}

func TestIncrementalSync_ExportsUndatedRecords(t *testing.T) {
	local, rc, fake := testSetup(t)
	ctx := context.Background()

	// Malformed approval date: derived columns stay NULL, the record lands
	// in the zero month, and it must still reach the remote store.
	r := &cola.Record{
		TTBID:        "13001000000050",
		BrandName:    "Alpha",
		CompanyName:  "ACME LLC",
		ApprovalDate: "pending review",
	}
	r.DeriveDate()
	require.NoError(t, local.UpsertRecord(ctx, r))
	seedLocal(t, local, 3, cola.Month{Year: 2013, Month: 5})

	s := New(local, rc, testLogger())
	stats, err := s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.RecordsSent)
	assert.Equal(t, 4, remoteCount(t, fake))

	var year any
	var brand string
	require.NoError(t, fake.DB.QueryRow(
		`SELECT year, brand_name FROM records WHERE ttb_id = '13001000000050'`).
		Scan(&year, &brand))
	assert.Nil(t, year)
	assert.Equal(t, "Alpha", brand)

	// Second run: the zero month's remote count now matches and it is
	// skipped like any other.
	stats, err = s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsSent)
	assert.Equal(t, 2, stats.MonthsSkipped)
}

func TestIncrementalSync_QuotingSurvivesRoundTrip(t *testing.T) {
	local, rc, fake := testSetup(t)
	ctx := context.Background()
	r := &cola.Record{
		TTBID:       "13001000000001",
		BrandName:   "Bill's; DROP TABLE records; --",
		CompanyName: "O'Brien's",
	}
	require.NoError(t, local.UpsertRecord(ctx, r))
	s := New(local, rc, testLogger())

	_, err := s.IncrementalSync(ctx)
	require.NoError(t, err)

	var brand, company string
	require.NoError(t, fake.DB.QueryRow(
		`SELECT brand_name, company_name FROM records WHERE ttb_id = '13001000000001'`).
		Scan(&brand, &company))
	assert.Equal(t, "Bill's; DROP TABLE records; --", brand)
	assert.Equal(t, "O'Brien's", company)
}

func TestFullSync_ResetsAndExports(t *testing.T) {
	local, rc, fake := testSetup(t)
	seedLocal(t, local, 12, cola.Month{Year: 2015, Month: 7})
	s := New(local, rc, testLogger())
	ctx := context.Background()

	// Pre-existing junk that the reset must clear.
	_, err := s.rc.Exec(ctx, remoteSchema)
	require.NoError(t, err)
	_, err = fake.DB.Exec(`INSERT INTO records (ttb_id) VALUES ('stale0000000001')`)
	require.NoError(t, err)

	stats, err := s.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.RecordsSent)
	assert.Equal(t, 12, remoteCount(t, fake))

	var n int
	require.NoError(t, fake.DB.QueryRow(
		`SELECT COUNT(*) FROM records WHERE ttb_id = 'stale0000000001'`).Scan(&n))
	assert.Zero(t, n)
}

func TestSendRecords_BatchesUnderStatementCap(t *testing.T) {
	local, rc, fake := testSetup(t)
	seedLocal(t, local, 1200, cola.Month{Year: 2016, Month: 5})
	s := New(local, rc, testLogger())
	ctx := context.Background()

	_, err := s.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1200, remoteCount(t, fake))

	// No single request carried more than the statement cap, and the
	// inserts were actually batched rather than sent row by row.
	sawBatch := false
	for _, n := range fake.BatchSizes {
		assert.LessOrEqual(t, n, maxStatementsPerCall)
		if n > 1 {
			sawBatch = true
		}
	}
	assert.True(t, sawBatch)
}

func TestInsertRecordSQL_NullsAndSignals(t *testing.T) {
	r := &cola.Record{TTBID: "13001000000002", ApprovalDate: "junk"}
	stmt := InsertRecordSQL(r)
	assert.Contains(t, stmt, "INSERT OR IGNORE INTO records")
	assert.Contains(t, stmt, "NULL, NULL, NULL, NULL, 0")

	r2 := &cola.Record{TTBID: "13001000000003", Signal: cola.SignalRefile}
	assert.Contains(t, InsertRecordSQL(r2), "'REFILE'")
}

func TestMigrateAddDay(t *testing.T) {
	_, rc, fake := testSetup(t)
	// Old schema, pre-day-column.
	_, err := fake.DB.Exec(`CREATE TABLE records (
		ttb_id TEXT PRIMARY KEY, approval_date TEXT, year INTEGER, month INTEGER)`)
	require.NoError(t, err)
	_, err = fake.DB.Exec(`INSERT INTO records VALUES
		('13001000000001', '01/15/2013', 2013, 1),
		('13001000000002', '02/03/2013', 2013, 2),
		('13001000000003', '', NULL, NULL)`)
	require.NoError(t, err)

	s := New(nil, rc, testLogger())
	require.NoError(t, s.MigrateAddDay(context.Background()))

	var d1, d2 int
	require.NoError(t, fake.DB.QueryRow(
		`SELECT day FROM records WHERE ttb_id = '13001000000001'`).Scan(&d1))
	require.NoError(t, fake.DB.QueryRow(
		`SELECT day FROM records WHERE ttb_id = '13001000000002'`).Scan(&d2))
	assert.Equal(t, 15, d1)
	assert.Equal(t, 3, d2)

	// Undated row stays NULL.
	var null any
	require.NoError(t, fake.DB.QueryRow(
		`SELECT day FROM records WHERE ttb_id = '13001000000003'`).Scan(&null))
	assert.Nil(t, null)
}

func TestMigrateFixYearMonth(t *testing.T) {
	_, rc, fake := testSetup(t)
	_, err := fake.DB.Exec(`CREATE TABLE records (
		ttb_id TEXT PRIMARY KEY, approval_date TEXT, year INTEGER, month INTEGER, day INTEGER)`)
	require.NoError(t, err)
	_, err = fake.DB.Exec(`INSERT INTO records VALUES
		('13001000000001', '06/20/2013', NULL, NULL, 20),
		('13001000000002', '07/04/2014', 14, 7, 4)`)
	require.NoError(t, err)

	s := New(nil, rc, testLogger())
	require.NoError(t, s.MigrateFixYearMonth(context.Background()))

	var y1, m1, y2 int
	require.NoError(t, fake.DB.QueryRow(
		`SELECT year, month FROM records WHERE ttb_id = '13001000000001'`).Scan(&y1, &m1))
	require.NoError(t, fake.DB.QueryRow(
		`SELECT year FROM records WHERE ttb_id = '13001000000002'`).Scan(&y2))
	assert.Equal(t, 2013, y1)
	assert.Equal(t, 6, m1)
	// Two-digit year from the early importer is re-derived.
	assert.Equal(t, 2014, y2)
}

func TestSortedMonths(t *testing.T) {
	counts := map[cola.Month]int{
		{Year: 2014, Month: 2}: 1, {Year: 2013, Month: 12}: 1, {Year: 0, Month: 0}: 1, {Year: 2014, Month: 1}: 1,
	}
	ms := sortedMonths(counts)
	assert.Equal(t, []cola.Month{{Year: 0, Month: 0}, {Year: 2013, Month: 12}, {Year: 2014, Month: 1}, {Year: 2014, Month: 2}}, ms)
}
