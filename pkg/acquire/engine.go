// Package acquire implements the two-phase acquisition engine: Phase 1
// discovers every record identifier in a date window by adaptive range
// splitting, Phase 2 scrapes each identifier's detail page into the local
// store. Both phases are idempotent and safe to interrupt.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/registry"
)

// rowCap is the registry's hard per-query response limit.
const rowCap = 1000

// maxResultPages bounds pagination per query so a pathological page loop
// cannot run forever.
const maxResultPages = 100

// classSlices partitions the registry's product-code space for the
// single-day overflow case. Disjoint and exhaustive over the code alphabet.
var classSlices = []registry.ClassRange{
	{From: "000", To: "299"},
	{From: "300", To: "499"},
	{From: "500", To: "699"},
	{From: "700", To: "899"},
	{From: "900", To: "999"},
}

// Driver is the slice of the browser driver the engine needs. The production
// implementation is registry.Driver; tests inject a fake registry.
type Driver interface {
	SubmitSearch(ctx context.Context, dateFrom, dateTo time.Time, cr *registry.ClassRange) (total int, firstPage string, err error)
	NextPage(ctx context.Context) (string, error)
	LoadDetail(ctx context.Context, detailURL string) (string, error)
}

// Engine runs acquisition for one worker against one local store.
type Engine struct {
	drv   Driver
	store *localstore.Store
	log   *slog.Logger

	// session identifies one process run in logs and progress errors.
	session string
}

func NewEngine(drv Driver, store *localstore.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		drv:     drv,
		store:   store,
		log:     log,
		session: uuid.NewString()[:8],
	}
}

// CollectMonth runs Phase 1 for one month: adaptive link collection followed
// by verification against the registry's own unfiltered total. A shortfall
// is recorded in progress, not returned as an error; the collected subset is
// kept for the next run.
func (e *Engine) CollectMonth(ctx context.Context, m cola.Month) error {
	progress, err := e.store.GetProgress(ctx, m.Year, m.Month)
	if err != nil {
		return fmt.Errorf("read progress for %s: %w", m, err)
	}
	if progress.LinksVerified {
		e.log.Info("links already verified, skipping", "month", m.String())
		return nil
	}

	// Resume short-circuit: a previous run may have collected everything
	// and died before flipping the verified bit.
	if progress.ExpectedLinks > 0 {
		count, err := e.store.CountLinks(ctx, m.Year, m.Month)
		if err != nil {
			return err
		}
		if count >= progress.ExpectedLinks {
			progress.CollectedLinks = count
			progress.LinksVerified = true
			progress.LastError = ""
			e.log.Info("link count already meets declared total",
				"month", m.String(), "count", count)
			return e.store.PutProgress(ctx, progress)
		}
	}

	e.log.Info("phase 1 start", "month", m.String(), "session", e.session)
	total, inserted, err := e.collectRange(ctx, m, m.First(), m.Last(), nil, 0)
	if err != nil {
		progress.LastError = fmt.Sprintf("link collection: %v", err)
		if perr := e.store.PutProgress(ctx, progress); perr != nil {
			e.log.Error("persist progress failed", "month", m.String(), "error", perr)
		}
		return err
	}
	e.log.Info("phase 1 collection done",
		"month", m.String(), "declared", total, "inserted", inserted)

	return e.verifyLinks(ctx, m, progress)
}

// CollectDays runs link collection for an explicit day window, skipping the
// month-level verification. The window may span month boundaries; each link
// is stamped with the month it falls in. Useful for re-scraping a day that
// came up short without touching the rest of its month.
func (e *Engine) CollectDays(ctx context.Context, from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("day range %s..%s is reversed",
			cola.RegistryDate(from), cola.RegistryDate(to))
	}
	for cur := from; !cur.After(to); {
		m := cola.Month{Year: cur.Year(), Month: int(cur.Month())}
		end := m.Last()
		if end.After(to) {
			end = to
		}
		e.log.Info("collecting day window",
			"from", cola.RegistryDate(cur), "to", cola.RegistryDate(end), "session", e.session)
		total, inserted, err := e.collectRange(ctx, m, cur, end, nil, 0)
		if err != nil {
			return err
		}
		e.log.Info("day window done",
			"from", cola.RegistryDate(cur), "to", cola.RegistryDate(end),
			"declared", total, "inserted", inserted)
		cur = end.AddDate(0, 0, 1)
	}
	return nil
}

// verifyLinks re-queries the whole month unfiltered and compares the local
// unique-link count against the canonical total.
func (e *Engine) verifyLinks(ctx context.Context, m cola.Month, progress cola.MonthProgress) error {
	canonical, _, err := e.drv.SubmitSearch(ctx, m.First(), m.Last(), nil)
	if err != nil {
		progress.LastError = fmt.Sprintf("verification query: %v", err)
		if perr := e.store.PutProgress(ctx, progress); perr != nil {
			return perr
		}
		return err
	}
	count, err := e.store.CountLinks(ctx, m.Year, m.Month)
	if err != nil {
		return err
	}

	progress.ExpectedLinks = canonical
	progress.CollectedLinks = count
	progress.LinksVerified = count >= canonical
	if progress.LinksVerified {
		progress.LastError = ""
		e.log.Info("links verified", "month", m.String(), "expected", canonical, "collected", count)
	} else {
		progress.LastError = fmt.Sprintf("link shortfall: collected %d of %d", count, canonical)
		e.log.Warn("link verification failed",
			"month", m.String(), "expected", canonical, "collected", count)
	}
	return e.store.PutProgress(ctx, progress)
}

// collectRange is the adaptive split. It bisects the date window while the
// declared total hits the registry's row cap, then partitions a single
// overflowing day by class-code slice, and finally settles for the capped
// first thousand when even a slice overflows.
func (e *Engine) collectRange(ctx context.Context, m cola.Month, from, to time.Time, cr *registry.ClassRange, depth int) (total, inserted int, err error) {
	total, firstPage, err := e.drv.SubmitSearch(ctx, from, to, cr)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}

	singleDay := from.Equal(to)
	switch {
	case total < rowCap:
		n, err := e.collectPages(ctx, m, firstPage)
		return total, n, err

	case !singleDay:
		days := int(to.Sub(from).Hours() / 24)
		mid := from.AddDate(0, 0, days/2)
		e.log.Debug("splitting date range",
			"from", cola.RegistryDate(from), "to", cola.RegistryDate(to),
			"total", total, "depth", depth)
		lt, ln, err := e.collectRange(ctx, m, from, mid, cr, depth+1)
		if err != nil {
			return 0, 0, err
		}
		rt, rn, err := e.collectRange(ctx, m, mid.AddDate(0, 0, 1), to, cr, depth+1)
		if err != nil {
			return 0, 0, err
		}
		return lt + rt, ln + rn, nil

	case cr == nil:
		e.log.Info("single day over row cap, splitting by class code",
			"day", cola.RegistryDate(from), "total", total)
		sumTotal, sumInserted := 0, 0
		for _, slice := range classSlices {
			slice := slice
			st, sn, err := e.collectRange(ctx, m, from, to, &slice, depth+1)
			if err != nil {
				return 0, 0, err
			}
			sumTotal += st
			sumInserted += sn
		}
		return sumTotal, sumInserted, nil

	default:
		// A single day within a single class slice still exceeds the cap.
		// The registry will only ever show the first thousand.
		e.log.Warn("row cap exceeded even for single day and class slice; collecting first 1000",
			"day", cola.RegistryDate(from), "class_from", cr.From, "class_to", cr.To,
			"total", total)
		n, err := e.collectPages(ctx, m, firstPage)
		return total, n, err
	}
}

// collectPages walks the result pages of the current query and inserts every
// discovered link.
func (e *Engine) collectPages(ctx context.Context, m cola.Month, firstPage string) (int, error) {
	inserted := 0
	page := firstPage
	for pageNum := 1; ; pageNum++ {
		links, err := registry.ParseResultRows(page)
		if err != nil {
			return inserted, err
		}
		for i := range links {
			links[i].Year = m.Year
			links[i].Month = m.Month
		}
		n, err := e.store.InsertLinks(ctx, links)
		if err != nil {
			return inserted, err
		}
		inserted += n

		if pageNum >= maxResultPages {
			e.log.Warn("page cap reached, aborting pagination", "month", m.String(), "pages", pageNum)
			return inserted, nil
		}
		page, err = e.drv.NextPage(ctx)
		if errors.Is(err, registry.ErrEndOfResults) {
			return inserted, nil
		}
		if err != nil {
			return inserted, err
		}
	}
}
