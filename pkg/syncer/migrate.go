package syncer

import (
	"context"
	"fmt"
)

// datePattern matches the MM/DD/YYYY shape in SQL LIKE terms.
const datePattern = `'__/__/____'`

// MigrateAddDay adds the day column and backfills it from approval_date.
// Safe to rerun: the ALTER failure on an existing column is tolerated and
// the backfill only touches NULL rows.
func (s *Syncer) MigrateAddDay(ctx context.Context) error {
	if _, err := s.rc.Exec(ctx, `ALTER TABLE records ADD COLUMN day INTEGER`); err != nil {
		s.log.Warn("day column add failed (already present?)", "error", err)
	}

	backfill := `UPDATE records SET day = CAST(substr(approval_date, 4, 2) AS INTEGER)
		WHERE day IS NULL AND approval_date LIKE ` + datePattern
	if _, err := s.rc.Exec(ctx, backfill); err != nil {
		return fmt.Errorf("backfill day column: %w", err)
	}

	remaining, err := s.rc.QueryInt(ctx,
		`SELECT COUNT(*) AS n FROM records WHERE day IS NULL AND approval_date LIKE `+datePattern)
	if err != nil {
		return err
	}
	if remaining != 0 {
		return fmt.Errorf("day backfill incomplete: %d dated rows still NULL", remaining)
	}
	s.log.Info("day column migration complete")
	return nil
}

// MigrateFixYearMonth re-derives year and month from approval_date for rows
// where they are missing or were stored swapped by an early importer.
func (s *Syncer) MigrateFixYearMonth(ctx context.Context) error {
	fix := `UPDATE records SET
		year = CAST(substr(approval_date, 7, 4) AS INTEGER),
		month = CAST(substr(approval_date, 1, 2) AS INTEGER)
	WHERE approval_date LIKE ` + datePattern + `
	  AND (year IS NULL OR month IS NULL OR year < 1900 OR month > 12)`
	if _, err := s.rc.Exec(ctx, fix); err != nil {
		return fmt.Errorf("fix year/month: %w", err)
	}

	remaining, err := s.rc.QueryInt(ctx,
		`SELECT COUNT(*) AS n FROM records
		 WHERE approval_date LIKE `+datePattern+`
		   AND (year IS NULL OR month IS NULL)`)
	if err != nil {
		return err
	}
	if remaining != 0 {
		return fmt.Errorf("year/month fix incomplete: %d dated rows still NULL", remaining)
	}
	s.log.Info("year/month migration complete")
	return nil
}
