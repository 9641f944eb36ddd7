// Package localstore is the embedded per-worker database: the link queue
// discovered in Phase 1, the scraped record table filled in Phase 2, and the
// per-month progress ledger. One store file per worker; consolidation across
// workers happens in Merge.
package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/colascope/colascope/pkg/cola"

	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the store at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}
	// A worker is strictly sequential; one connection keeps transactions
	// from interleaving across the pool.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS links (
			ttb_id     TEXT PRIMARY KEY,
			detail_url TEXT NOT NULL,
			year       INTEGER NOT NULL,
			month      INTEGER NOT NULL,
			scraped    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_month ON links(year, month)`,
		`CREATE INDEX IF NOT EXISTS idx_links_month_scraped ON links(year, month, scraped)`,
		`CREATE TABLE IF NOT EXISTS records (
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
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_month ON records(year, month)`,
		`CREATE INDEX IF NOT EXISTS idx_records_approval ON records(approval_date)`,
		`CREATE TABLE IF NOT EXISTS month_progress (
			year             INTEGER NOT NULL,
			month            INTEGER NOT NULL,
			expected_links   INTEGER NOT NULL DEFAULT 0,
			collected_links  INTEGER NOT NULL DEFAULT 0,
			links_verified   INTEGER NOT NULL DEFAULT 0,
			scraped_details  INTEGER NOT NULL DEFAULT 0,
			details_verified INTEGER NOT NULL DEFAULT 0,
			last_error       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (year, month)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrate local store: %w", err)
		}
	}
	return nil
}

// InsertLinks adds links to the queue, deduplicated by ttb_id. Returns the
// number actually inserted. Each call commits immediately so an interrupted
// worker never loses collected links.
func (s *Store) InsertLinks(ctx context.Context, links []cola.Link) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO links (ttb_id, detail_url, year, month) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, l := range links {
		res, err := stmt.ExecContext(ctx, l.TTBID, l.DetailURL, l.Year, l.Month)
		if err != nil {
			return inserted, fmt.Errorf("insert link %s: %w", l.TTBID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// CountLinks returns the number of distinct link keys for a month.
func (s *Store) CountLinks(ctx context.Context, year, month int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM links WHERE year = ? AND month = ?`, year, month).Scan(&n)
	return n, err
}

// UnscrapedLinks returns the pending links for a month in ttb_id order.
func (s *Store) UnscrapedLinks(ctx context.Context, year, month int) ([]cola.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ttb_id, detail_url, year, month FROM links
		 WHERE year = ? AND month = ? AND scraped = 0 ORDER BY ttb_id`, year, month)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []cola.Link
	for rows.Next() {
		var l cola.Link
		if err := rows.Scan(&l.TTBID, &l.DetailURL, &l.Year, &l.Month); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const recordColumns = `ttb_id, serial_number, vendor_code, status, class_type_code,
	origin_code, type_of_application, brand_name, fanciful_name, qualifications,
	formula, for_sale_in, total_bottle_capacity, grape_varietal, wine_vintage,
	appellation, alcohol_content, ph_level, company_name, plant_registry, street,
	state, contact_person, phone_number, approval_date, year, month, day,
	signal, refile_count, category`

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// UpsertRecord writes a scraped record and flips its link's scraped flag in
// the same transaction. Interrupting a worker therefore never leaves a
// scraped link without its record.
func (s *Store) UpsertRecord(ctx context.Context, r *cola.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT OR REPLACE INTO records (` + recordColumns + `) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		r.TTBID, r.SerialNumber, r.VendorCode, r.Status, r.ClassTypeCode,
		r.OriginCode, r.TypeOfApplication, r.BrandName, r.FancifulName, r.Qualifications,
		r.Formula, r.ForSaleIn, r.TotalBottleCapacity, r.GrapeVarietal, r.WineVintage,
		r.Appellation, r.AlcoholContent, r.PHLevel, r.CompanyName, r.PlantRegistry, r.Street,
		r.State, r.ContactPerson, r.PhoneNumber, r.ApprovalDate,
		nullableInt(r.Year), nullableInt(r.Month), nullableInt(r.Day),
		string(r.Signal), r.RefileCount, r.Category,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.TTBID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE links SET scraped = 1 WHERE ttb_id = ?`, r.TTBID); err != nil {
		return fmt.Errorf("mark link %s scraped: %w", r.TTBID, err)
	}
	return tx.Commit()
}

// CountRecords returns the number of records stored for a month.
func (s *Store) CountRecords(ctx context.Context, year, month int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE year = ? AND month = ?`, year, month).Scan(&n)
	return n, err
}

// TotalRecords returns the full record count.
func (s *Store) TotalRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// GetRecord fetches one record by key, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, ttbID string) (*cola.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE ttb_id = ?`, ttbID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRecord(rows)
}

// RecordsPage returns records ordered by ttb_id, for export to the remote
// store. Offset paging is fine here: the local file has no memory limit.
func (s *Store) RecordsPage(ctx context.Context, limit, offset int) ([]*cola.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records ORDER BY ttb_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*cola.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MonthRecordsPage returns one month's records ordered by ttb_id. The zero
// month pages the undated records, whose derived date columns are stored
// NULL, matching how MonthCounts buckets them.
func (s *Store) MonthRecordsPage(ctx context.Context, year, month, limit, offset int) ([]*cola.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE year = ? AND month = ?
		 ORDER BY ttb_id LIMIT ? OFFSET ?`
	args := []any{year, month, limit, offset}
	if year == 0 {
		query = `SELECT ` + recordColumns + ` FROM records WHERE year IS NULL
		 ORDER BY ttb_id LIMIT ? OFFSET ?`
		args = []any{limit, offset}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*cola.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MonthCounts returns record counts keyed by (year, month). Records with
// null dates land under the zero month.
func (s *Store) MonthCounts(ctx context.Context) (map[cola.Month]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(year, 0), COALESCE(month, 0), COUNT(*) FROM records GROUP BY 1, 2`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[cola.Month]int)
	for rows.Next() {
		var m cola.Month
		var n int
		if err := rows.Scan(&m.Year, &m.Month, &n); err != nil {
			return nil, err
		}
		out[m] = n
	}
	return out, rows.Err()
}

// DistinctBrandNames returns every non-empty brand name in the store.
func (s *Store) DistinctBrandNames(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "brand_name")
}

// DistinctCompanyNames returns every non-empty company name in the store.
func (s *Store) DistinctCompanyNames(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "company_name")
}

// BrandFilingCounts returns the number of records filed under each
// non-empty brand name.
func (s *Store) BrandFilingCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT brand_name, COUNT(*) FROM records WHERE brand_name != '' GROUP BY brand_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

func (s *Store) distinctColumn(ctx context.Context, col string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT `+col+` FROM records WHERE `+col+` != '' ORDER BY `+col)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (*cola.Record, error) {
	var r cola.Record
	var (
		year, month, day, refile sql.NullInt64
		signal                   sql.NullString
		category                 sql.NullString
	)
	err := rows.Scan(
		&r.TTBID, &r.SerialNumber, &r.VendorCode, &r.Status, &r.ClassTypeCode,
		&r.OriginCode, &r.TypeOfApplication, &r.BrandName, &r.FancifulName, &r.Qualifications,
		&r.Formula, &r.ForSaleIn, &r.TotalBottleCapacity, &r.GrapeVarietal, &r.WineVintage,
		&r.Appellation, &r.AlcoholContent, &r.PHLevel, &r.CompanyName, &r.PlantRegistry, &r.Street,
		&r.State, &r.ContactPerson, &r.PhoneNumber, &r.ApprovalDate,
		&year, &month, &day, &signal, &refile, &category,
	)
	if err != nil {
		return nil, err
	}
	r.Year = int(year.Int64)
	r.Month = int(month.Int64)
	r.Day = int(day.Int64)
	r.Signal = cola.Signal(signal.String)
	r.RefileCount = int(refile.Int64)
	r.Category = category.String
	return &r, nil
}

// GetProgress returns the progress row for a month, zero-valued when absent.
func (s *Store) GetProgress(ctx context.Context, year, month int) (cola.MonthProgress, error) {
	p := cola.MonthProgress{Year: year, Month: month}
	var linksVerified, detailsVerified int
	err := s.db.QueryRowContext(ctx,
		`SELECT expected_links, collected_links, links_verified, scraped_details,
		        details_verified, last_error
		 FROM month_progress WHERE year = ? AND month = ?`, year, month).
		Scan(&p.ExpectedLinks, &p.CollectedLinks, &linksVerified,
			&p.ScrapedDetails, &detailsVerified, &p.LastError)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.LinksVerified = linksVerified != 0
	p.DetailsVerified = detailsVerified != 0
	return p, nil
}

// PutProgress writes the progress row for a month.
func (s *Store) PutProgress(ctx context.Context, p cola.MonthProgress) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO month_progress
		 (year, month, expected_links, collected_links, links_verified,
		  scraped_details, details_verified, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Year, p.Month, p.ExpectedLinks, p.CollectedLinks, boolInt(p.LinksVerified),
		p.ScrapedDetails, boolInt(p.DetailsVerified), p.LastError)
	if err != nil {
		return fmt.Errorf("put progress %s: %w", p.Key(), err)
	}
	return nil
}

// AllProgress returns every progress row ordered chronologically.
func (s *Store) AllProgress(ctx context.Context) ([]cola.MonthProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, month, expected_links, collected_links, links_verified,
		        scraped_details, details_verified, last_error
		 FROM month_progress ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []cola.MonthProgress
	for rows.Next() {
		var p cola.MonthProgress
		var lv, dv int
		if err := rows.Scan(&p.Year, &p.Month, &p.ExpectedLinks, &p.CollectedLinks,
			&lv, &p.ScrapedDetails, &dv, &p.LastError); err != nil {
			return nil, err
		}
		p.LinksVerified = lv != 0
		p.DetailsVerified = dv != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkIntegrity reports the total and distinct ttb_id counts in the link
// queue. The two must match; the primary key enforces it, so a mismatch
// means file corruption.
func (s *Store) LinkIntegrity(ctx context.Context) (total, distinct int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ttb_id) FROM links`).Scan(&total, &distinct)
	return total, distinct, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
