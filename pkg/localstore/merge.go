package localstore

import (
	"context"
	"fmt"
	"log/slog"
)

// MergeResult summarizes one source store's contribution to a consolidation.
type MergeResult struct {
	Source         string
	LinksMerged    int64
	RecordsMerged  int64
	ProgressMerged int64
}

// MergeFrom copies another worker's store into this one, first writer wins
// for each ttb_id. Conflicts are impossible to order across workers, and do
// not need to be: every writer scraped the same registry row.
func (s *Store) MergeFrom(ctx context.Context, srcPath string, log *slog.Logger) (MergeResult, error) {
	res := MergeResult{Source: srcPath}

	if _, err := s.db.ExecContext(ctx, `ATTACH DATABASE ? AS src`, srcPath); err != nil {
		return res, fmt.Errorf("attach %s: %w", srcPath, err)
	}
	defer func() {
		if _, err := s.db.ExecContext(ctx, `DETACH DATABASE src`); err != nil {
			log.Warn("detach failed", "source", srcPath, "error", err)
		}
	}()

	r, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO links (ttb_id, detail_url, year, month, scraped)
		 SELECT ttb_id, detail_url, year, month, scraped FROM src.links`)
	if err != nil {
		return res, fmt.Errorf("merge links from %s: %w", srcPath, err)
	}
	res.LinksMerged, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (`+recordColumns+`)
		 SELECT `+recordColumns+` FROM src.records`)
	if err != nil {
		return res, fmt.Errorf("merge records from %s: %w", srcPath, err)
	}
	res.RecordsMerged, _ = r.RowsAffected()

	// Progress rows merge per month; a row already present wins, matching
	// the link/record rule.
	r, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO month_progress
		 (year, month, expected_links, collected_links, links_verified,
		  scraped_details, details_verified, last_error)
		 SELECT year, month, expected_links, collected_links, links_verified,
		        scraped_details, details_verified, last_error
		 FROM src.month_progress`)
	if err != nil {
		return res, fmt.Errorf("merge progress from %s: %w", srcPath, err)
	}
	res.ProgressMerged, _ = r.RowsAffected()

	log.Info("merged worker store",
		"source", srcPath,
		"links", res.LinksMerged,
		"records", res.RecordsMerged)
	return res, nil
}
