package localstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertLinks_Deduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	links := []cola.Link{
		{TTBID: "13001001000001", DetailURL: "u1", Year: 2013, Month: 1},
		{TTBID: "13001001000002", DetailURL: "u2", Year: 2013, Month: 1},
		{TTBID: "13001001000001", DetailURL: "u1-again", Year: 2013, Month: 1},
	}
	n, err := s.InsertLinks(ctx, links)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-running the same insert is a no-op: Phase 1 is idempotent.
	n, err = s.InsertLinks(ctx, links)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	total, distinct, err := s.LinkIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, distinct)
	assert.Equal(t, 2, total)
}

func TestUpsertRecord_FlipsScrapedFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertLinks(ctx, []cola.Link{
		{TTBID: "13001001000001", DetailURL: "u1", Year: 2013, Month: 1},
		{TTBID: "13001001000002", DetailURL: "u2", Year: 2013, Month: 1},
	})
	require.NoError(t, err)

	rec := &cola.Record{
		TTBID:        "13001001000001",
		BrandName:    "Alpha",
		CompanyName:  "ACME LLC",
		ApprovalDate: "01/15/2013",
	}
	rec.DeriveDate()
	require.NoError(t, s.UpsertRecord(ctx, rec))

	pending, err := s.UnscrapedLinks(ctx, 2013, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "13001001000002", pending[0].TTBID)

	n, err := s.CountRecords(ctx, 2013, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRecord(ctx, "13001001000001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2013, got.Year)
	assert.Equal(t, 1, got.Month)
	assert.Equal(t, 15, got.Day)
}

func TestUpsertRecord_LastWriterWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &cola.Record{TTBID: "13001001000001", BrandName: "Alpha", CompanyName: "ACME"}
	require.NoError(t, s.UpsertRecord(ctx, rec))
	rec.BrandName = "Alpha Reserve"
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "13001001000001")
	require.NoError(t, err)
	assert.Equal(t, "Alpha Reserve", got.BrandName)

	total, err := s.TotalRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestNullDateStoredAsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &cola.Record{TTBID: "13001001000009", ApprovalDate: "pending"}
	rec.DeriveDate()
	require.NoError(t, s.UpsertRecord(ctx, rec))

	counts, err := s.MonthCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[cola.Month{}])
}

func TestMonthRecordsPage_ZeroMonthPagesUndated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	undated := &cola.Record{TTBID: "13001001000010", ApprovalDate: "unknown"}
	undated.DeriveDate()
	require.NoError(t, s.UpsertRecord(ctx, undated))

	dated := &cola.Record{TTBID: "13001001000011", ApprovalDate: "01/15/2013"}
	dated.DeriveDate()
	require.NoError(t, s.UpsertRecord(ctx, dated))

	page, err := s.MonthRecordsPage(ctx, 0, 0, 100, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "13001001000010", page[0].TTBID)

	page, err = s.MonthRecordsPage(ctx, 2013, 1, 100, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "13001001000011", page[0].TTBID)
}

func TestProgressRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.GetProgress(ctx, 2013, 1)
	require.NoError(t, err)
	assert.False(t, p.LinksVerified)
	assert.Zero(t, p.ExpectedLinks)

	p.ExpectedLinks = 8412
	p.CollectedLinks = 8412
	p.LinksVerified = true
	p.LastError = ""
	require.NoError(t, s.PutProgress(ctx, p))

	got, err := s.GetProgress(ctx, 2013, 1)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	all, err := s.AllProgress(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2013-01", all[0].Key())
}

func TestMergeFrom_FirstWriterWins(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Open(filepath.Join(dir, "worker-a.db"))
	require.NoError(t, err)
	b, err := Open(filepath.Join(dir, "worker-b.db"))
	require.NoError(t, err)

	require.NoError(t, a.UpsertRecord(ctx, &cola.Record{TTBID: "14001000000001", BrandName: "FromA"}))
	require.NoError(t, b.UpsertRecord(ctx, &cola.Record{TTBID: "14001000000001", BrandName: "FromB"}))
	require.NoError(t, b.UpsertRecord(ctx, &cola.Record{TTBID: "14001000000002", BrandName: "OnlyB"}))
	_, err = b.InsertLinks(ctx, []cola.Link{{TTBID: "14001000000002", DetailURL: "u", Year: 2014, Month: 1}})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	out, err := Open(filepath.Join(dir, "consolidated.db"))
	require.NoError(t, err)
	defer func() { _ = out.Close() }()

	resA, err := out.MergeFrom(ctx, filepath.Join(dir, "worker-a.db"), log)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resA.RecordsMerged)

	resB, err := out.MergeFrom(ctx, filepath.Join(dir, "worker-b.db"), log)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resB.RecordsMerged) // duplicate key ignored
	assert.EqualValues(t, 1, resB.LinksMerged)

	got, err := out.GetRecord(ctx, "14001000000001")
	require.NoError(t, err)
	assert.Equal(t, "FromA", got.BrandName)

	total, err := out.TotalRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
