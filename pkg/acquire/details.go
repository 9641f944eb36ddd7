package acquire

import (
	"context"
	"errors"
	"fmt"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/registry"
)

// perLinkAttempts is the per-session failure budget for one link. A link
// that keeps failing stays unscraped and is retried on the next run.
const perLinkAttempts = 3

// ScrapeMonth runs Phase 2 for one month: load and extract every pending
// link, then verify the record count against the month's expected total.
func (e *Engine) ScrapeMonth(ctx context.Context, m cola.Month) error {
	progress, err := e.store.GetProgress(ctx, m.Year, m.Month)
	if err != nil {
		return fmt.Errorf("read progress for %s: %w", m, err)
	}
	if progress.DetailsVerified {
		e.log.Info("details already verified, skipping", "month", m.String())
		return nil
	}

	pending, err := e.store.UnscrapedLinks(ctx, m.Year, m.Month)
	if err != nil {
		return err
	}
	e.log.Info("phase 2 start",
		"month", m.String(), "pending", len(pending), "session", e.session)

	ok, failed := 0, 0
	for _, link := range pending {
		if err := e.scrapeOne(ctx, link); err != nil {
			if errors.Is(err, registry.ErrCaptchaQuit) || ctx.Err() != nil {
				return err
			}
			failed++
			e.log.Warn("detail scrape failed", "ttb_id", link.TTBID, "error", err)
		} else {
			ok++
		}
		if (ok+failed)%100 == 0 {
			e.log.Info("phase 2 progress", "month", m.String(), "ok", ok, "failed", failed)
		}
	}
	e.log.Info("phase 2 done", "month", m.String(), "ok", ok, "failed", failed)

	return e.verifyDetails(ctx, m, progress)
}

// scrapeOne loads one detail page and persists the extracted record, giving
// up after the per-session attempt budget.
func (e *Engine) scrapeOne(ctx context.Context, link cola.Link) error {
	var lastErr error
	for attempt := 1; attempt <= perLinkAttempts; attempt++ {
		html, err := e.drv.LoadDetail(ctx, link.DetailURL)
		if err != nil {
			if errors.Is(err, registry.ErrCaptchaQuit) || errors.Is(err, registry.ErrCaptchaSkip) {
				return err
			}
			lastErr = err
			continue
		}
		rec, err := registry.ParseDetail(link.TTBID, html)
		if err != nil {
			lastErr = err
			continue
		}
		if err := e.store.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("gave up after %d attempts: %w", perLinkAttempts, lastErr)
}

func (e *Engine) verifyDetails(ctx context.Context, m cola.Month, progress cola.MonthProgress) error {
	count, err := e.store.CountRecords(ctx, m.Year, m.Month)
	if err != nil {
		return err
	}
	if !progress.LinksVerified {
		// Day-window collection leaves no canonical month total to check
		// against, so the month makes no verification claim either way.
		e.log.Info("no verified link total for month, skipping detail check",
			"month", m.String(), "records", count)
		return nil
	}
	progress.ScrapedDetails = count
	progress.DetailsVerified = count >= progress.ExpectedLinks
	if progress.DetailsVerified {
		progress.LastError = ""
		e.log.Info("details verified", "month", m.String(), "records", count)
	} else {
		progress.LastError = fmt.Sprintf("detail shortfall: scraped %d of %d", count, progress.ExpectedLinks)
		e.log.Warn("detail verification failed",
			"month", m.String(), "expected", progress.ExpectedLinks, "records", count)
	}
	return e.store.PutProgress(ctx, progress)
}
