// Package syncer exports the consolidated local store to the remote
// analytical database. All writes are INSERT OR IGNORE keyed on ttb_id, so
// a retried or repeated sync never changes the outcome.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/remote"
)

const (
	// fullSyncChunk is the row count exported per full-sync chunk.
	fullSyncChunk = 25_000
	// maxStatementsPerCall bounds one multi-statement request; the byte cap
	// usually bites first, landing real batches between 50 and 500.
	maxStatementsPerCall = 500
	// localPageSize is how many records are read from the local store at a
	// time while exporting.
	localPageSize = 5_000
)

type Syncer struct {
	local *localstore.Store
	rc    *remote.Client
	log   *slog.Logger
}

func New(local *localstore.Store, rc *remote.Client, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{local: local, rc: rc, log: log}
}

// Stats summarizes one sync run.
type Stats struct {
	MonthsSkipped int
	RecordsSent   int
	Calls         int
}

// remoteSchema creates the records table and the company/brand index tables.
// Index set matches the local store plus (year, month, day).
const remoteSchema = `
CREATE TABLE IF NOT EXISTS records (
	ttb_id                TEXT PRIMARY KEY,
	serial_number         TEXT,
	vendor_code           TEXT,
	status                TEXT,
	class_type_code       TEXT,
	origin_code           TEXT,
	type_of_application   TEXT,
	brand_name            TEXT,
	fanciful_name         TEXT,
	qualifications        TEXT,
	formula               TEXT,
	for_sale_in           TEXT,
	total_bottle_capacity TEXT,
	grape_varietal        TEXT,
	wine_vintage          TEXT,
	appellation           TEXT,
	alcohol_content       TEXT,
	ph_level              TEXT,
	company_name          TEXT,
	plant_registry        TEXT,
	street                TEXT,
	state                 TEXT,
	contact_person        TEXT,
	phone_number          TEXT,
	approval_date         TEXT,
	year                  INTEGER,
	month                 INTEGER,
	day                   INTEGER,
	signal                TEXT,
	refile_count          INTEGER,
	category              TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_month ON records(year, month);
CREATE INDEX IF NOT EXISTS idx_records_month_day ON records(year, month, day);
CREATE INDEX IF NOT EXISTS idx_records_approval ON records(approval_date);
CREATE TABLE IF NOT EXISTS companies (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	canonical_name TEXT NOT NULL,
	slug           TEXT NOT NULL,
	total_filings  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS company_aliases (
	raw_name   TEXT PRIMARY KEY,
	company_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS brand_slugs (
	slug         TEXT PRIMARY KEY,
	brand_name   TEXT NOT NULL,
	filing_count INTEGER NOT NULL DEFAULT 0
)`

// FullSync drops and recreates the remote schema, then exports every local
// record in chunks.
func (s *Syncer) FullSync(ctx context.Context) (Stats, error) {
	var stats Stats

	reset := `DROP TABLE IF EXISTS records;
DROP TABLE IF EXISTS companies;
DROP TABLE IF EXISTS company_aliases;
DROP TABLE IF EXISTS brand_slugs;
` + remoteSchema
	if _, err := s.rc.Exec(ctx, reset); err != nil {
		return stats, fmt.Errorf("reset remote schema: %w", err)
	}
	stats.Calls++
	s.log.Info("remote schema reset")

	offset := 0
	chunk := make([]*cola.Record, 0, fullSyncChunk)
	flushChunk := func() error {
		if len(chunk) == 0 {
			return nil
		}
		sent, calls, err := s.sendRecords(ctx, chunk)
		stats.RecordsSent += sent
		stats.Calls += calls
		chunk = chunk[:0]
		return err
	}
	for {
		page, err := s.local.RecordsPage(ctx, localPageSize, offset)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)
		chunk = append(chunk, page...)
		if len(chunk) >= fullSyncChunk {
			if err := flushChunk(); err != nil {
				return stats, err
			}
			s.log.Info("full sync progress", "exported", stats.RecordsSent)
		}
	}
	if err := flushChunk(); err != nil {
		return stats, err
	}
	s.log.Info("full sync complete", "records", stats.RecordsSent, "calls", stats.Calls)
	return stats, nil
}

// IncrementalSync exports only months whose remote row count trails the
// local one. Within a month every record is sent as INSERT OR IGNORE; the
// remote key constraint discards what it already has.
func (s *Syncer) IncrementalSync(ctx context.Context) (Stats, error) {
	var stats Stats

	if _, err := s.rc.Exec(ctx, remoteSchema); err != nil {
		return stats, fmt.Errorf("ensure remote schema: %w", err)
	}
	stats.Calls++

	counts, err := s.local.MonthCounts(ctx)
	if err != nil {
		return stats, err
	}
	months := sortedMonths(counts)

	for _, m := range months {
		localCount := counts[m]
		remoteCount, err := s.remoteMonthCount(ctx, m)
		if err != nil {
			return stats, err
		}
		stats.Calls++
		if int(remoteCount) >= localCount {
			stats.MonthsSkipped++
			continue
		}
		s.log.Info("syncing month",
			"month", m.String(), "local", localCount, "remote", remoteCount)

		offset := 0
		for {
			page, err := s.local.MonthRecordsPage(ctx, m.Year, m.Month, localPageSize, offset)
			if err != nil {
				return stats, err
			}
			if len(page) == 0 {
				break
			}
			offset += len(page)
			sent, calls, err := s.sendRecords(ctx, page)
			stats.RecordsSent += sent
			stats.Calls += calls
			if err != nil {
				return stats, err
			}
		}
	}
	s.log.Info("incremental sync complete",
		"records", stats.RecordsSent, "months_skipped", stats.MonthsSkipped, "calls", stats.Calls)
	return stats, nil
}

func (s *Syncer) remoteMonthCount(ctx context.Context, m cola.Month) (int64, error) {
	if m.Year == 0 {
		return s.rc.QueryInt(ctx, `SELECT COUNT(*) AS n FROM records WHERE year IS NULL`)
	}
	return s.rc.QueryInt(ctx, fmt.Sprintf(
		`SELECT COUNT(*) AS n FROM records WHERE year = %d AND month = %d`, m.Year, m.Month))
}

// sendRecords converts records to INSERT OR IGNORE statements and flushes
// them in size- and count-bounded multi-statement calls.
func (s *Syncer) sendRecords(ctx context.Context, recs []*cola.Record) (sent, calls int, err error) {
	var batch []string
	var batchBytes int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := s.rc.Exec(ctx, strings.Join(batch, ";\n")); err != nil {
			return err
		}
		calls++
		sent += len(batch)
		batch = batch[:0]
		batchBytes = 0
		return nil
	}

	for _, r := range recs {
		stmt := InsertRecordSQL(r)
		stmtBytes := remote.StatementBytes(stmt)
		if len(batch) >= maxStatementsPerCall ||
			batchBytes+stmtBytes > remote.MaxRequestBytes-4096 {
			if err := flush(); err != nil {
				return sent, calls, err
			}
		}
		batch = append(batch, stmt)
		batchBytes += stmtBytes + 3
	}
	return sent, calls, flush()
}

// InsertRecordSQL renders one idempotent record insert.
func InsertRecordSQL(r *cola.Record) string {
	var signal any
	if r.Signal != cola.SignalUnset {
		signal = string(r.Signal)
	}
	values := []string{
		remote.Literal(r.TTBID),
		remote.Literal(r.SerialNumber),
		remote.Literal(r.VendorCode),
		remote.Literal(r.Status),
		remote.Literal(r.ClassTypeCode),
		remote.Literal(r.OriginCode),
		remote.Literal(r.TypeOfApplication),
		remote.Literal(r.BrandName),
		remote.Literal(r.FancifulName),
		remote.Literal(r.Qualifications),
		remote.Literal(r.Formula),
		remote.Literal(r.ForSaleIn),
		remote.Literal(r.TotalBottleCapacity),
		remote.Literal(r.GrapeVarietal),
		remote.Literal(r.WineVintage),
		remote.Literal(r.Appellation),
		remote.Literal(r.AlcoholContent),
		remote.Literal(r.PHLevel),
		remote.Literal(r.CompanyName),
		remote.Literal(r.PlantRegistry),
		remote.Literal(r.Street),
		remote.Literal(r.State),
		remote.Literal(r.ContactPerson),
		remote.Literal(r.PhoneNumber),
		remote.Literal(r.ApprovalDate),
		remote.NullableInt(r.Year),
		remote.NullableInt(r.Month),
		remote.NullableInt(r.Day),
		remote.Literal(signal),
		fmt.Sprintf("%d", r.RefileCount),
		remote.Literal(r.Category),
	}
	return `INSERT OR IGNORE INTO records (ttb_id, serial_number, vendor_code, status, class_type_code, origin_code, type_of_application, brand_name, fanciful_name, qualifications, formula, for_sale_in, total_bottle_capacity, grape_varietal, wine_vintage, appellation, alcohol_content, ph_level, company_name, plant_registry, street, state, contact_person, phone_number, approval_date, year, month, day, signal, refile_count, category) VALUES (` +
		strings.Join(values, ", ") + `)`
}

func sortedMonths(counts map[cola.Month]int) []cola.Month {
	months := make([]cola.Month, 0, len(counts))
	for m := range counts {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}
