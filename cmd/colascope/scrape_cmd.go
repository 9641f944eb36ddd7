package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/colascope/colascope/pkg/acquire"
	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/registry"
)

// runScrapeCmd implements `colascope scrape <worker>`.
//
// The worker name is required and selects the local store file. Exactly one
// month/day selector picks the work set. Phase toggles restrict the run to
// link collection or detail scraping.
//
// Exit codes:
//
//	0 = all selected months verified
//	1 = run aborted or at least one month failed verification
//	2 = usage or configuration error
func runScrapeCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		_, _ = fmt.Fprintln(stderr, "Usage: colascope scrape <worker> [flags]")
		return 2
	}
	worker := args[0]

	cmd := flag.NewFlagSet("scrape", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		monthsArg  string
		rangeArg   string
		yearArg    int
		dateArg    string
		datesArg   string
		linksOnly  bool
		detailOnly bool
		headless   bool
		status     bool
		configPath string
	)

	cmd.StringVar(&monthsArg, "months", "", "Comma-separated months to scrape (YYYY-MM,...)")
	cmd.StringVar(&rangeArg, "range", "", "Inclusive month range (YYYY-MM..YYYY-MM)")
	cmd.IntVar(&yearArg, "year", 0, "Whole calendar year (YYYY)")
	cmd.StringVar(&dateArg, "date", "", "Single day (YYYY-MM-DD)")
	cmd.StringVar(&datesArg, "dates", "", "Inclusive day range (YYYY-MM-DD..YYYY-MM-DD)")
	cmd.BoolVar(&linksOnly, "links-only", false, "Run Phase 1 only")
	cmd.BoolVar(&detailOnly, "details-only", false, "Run Phase 2 only")
	cmd.BoolVar(&headless, "headless", false, "Run the browser headless")
	cmd.BoolVar(&status, "status", false, "Print this worker's progress and exit")
	cmd.StringVar(&configPath, "config", "", "Config file path (overrides COLASCOPE_CONFIG)")

	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if linksOnly && detailOnly {
		_, _ = fmt.Fprintln(stderr, "Error: --links-only and --details-only are mutually exclusive")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if headless {
		cfg.Headless = true
	}
	log := newLogger(cfg, stderr)

	store, err := localstore.Open(filepath.Join(cfg.DataDir, worker+".db"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open local store: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if status {
		return printProgressSummary(ctx, stdout, stderr, store)
	}

	sel, err := resolveSelection(monthsArg, rangeArg, yearArg, dateArg, datesArg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	drv, err := registry.New(registry.Options{
		Headless:       cfg.Headless,
		Interactive:    isatty.IsTerminal(os.Stdin.Fd()),
		Prompter:       registry.NewStdinPrompter(),
		Logger:         log,
		CaptchaTimeout: cfg.CaptchaTimeout,
		DetailTimeout:  cfg.DetailTimeout,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := drv.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: browser startup: %v\n", err)
		return 2
	}
	defer drv.Close()

	engine := acquire.NewEngine(drv, store, log)

	if sel.dayFrom != nil && !detailOnly {
		if err := engine.CollectDays(ctx, *sel.dayFrom, *sel.dayTo); err != nil {
			return reportRunError(stderr, err)
		}
	}
	for _, m := range sel.months {
		if sel.dayFrom == nil && !detailOnly {
			if err := engine.CollectMonth(ctx, m); err != nil {
				return reportRunError(stderr, err)
			}
		}
		if !linksOnly {
			if err := engine.ScrapeMonth(ctx, m); err != nil {
				return reportRunError(stderr, err)
			}
		}
	}

	return printProgressSummary(ctx, stdout, stderr, store)
}

// selection is the resolved work set: whole months, plus an optional
// explicit day window for --date/--dates.
type selection struct {
	months  []cola.Month
	dayFrom *time.Time
	dayTo   *time.Time
}

func resolveSelection(monthsArg, rangeArg string, yearArg int, dateArg, datesArg string) (selection, error) {
	var sel selection
	set := 0
	for _, s := range []bool{monthsArg != "", rangeArg != "", yearArg != 0, dateArg != "", datesArg != ""} {
		if s {
			set++
		}
	}
	if set == 0 {
		return sel, fmt.Errorf("one of --months, --range, --year, --date, --dates is required")
	}
	if set > 1 {
		return sel, fmt.Errorf("--months, --range, --year, --date, --dates are mutually exclusive")
	}

	switch {
	case monthsArg != "":
		for _, part := range strings.Split(monthsArg, ",") {
			m, err := cola.ParseMonth(strings.TrimSpace(part))
			if err != nil {
				return sel, err
			}
			sel.months = append(sel.months, m)
		}

	case rangeArg != "":
		start, end, err := splitRange(rangeArg)
		if err != nil {
			return sel, err
		}
		from, err := cola.ParseMonth(start)
		if err != nil {
			return sel, err
		}
		to, err := cola.ParseMonth(end)
		if err != nil {
			return sel, err
		}
		sel.months, err = cola.MonthRange(from, to)
		if err != nil {
			return sel, err
		}

	case yearArg != 0:
		sel.months = cola.MonthsOfYear(yearArg)

	case dateArg != "":
		d, err := parseDay(dateArg)
		if err != nil {
			return sel, err
		}
		sel.dayFrom, sel.dayTo = &d, &d
		sel.months = []cola.Month{{Year: d.Year(), Month: int(d.Month())}}

	case datesArg != "":
		start, end, err := splitRange(datesArg)
		if err != nil {
			return sel, err
		}
		from, err := parseDay(start)
		if err != nil {
			return sel, err
		}
		to, err := parseDay(end)
		if err != nil {
			return sel, err
		}
		if to.Before(from) {
			return sel, fmt.Errorf("day range %s is reversed", datesArg)
		}
		sel.dayFrom, sel.dayTo = &from, &to
		first := cola.Month{Year: from.Year(), Month: int(from.Month())}
		last := cola.Month{Year: to.Year(), Month: int(to.Month())}
		sel.months, err = cola.MonthRange(first, last)
		if err != nil {
			return sel, err
		}
	}
	return sel, nil
}

func splitRange(s string) (string, string, error) {
	parts := strings.SplitN(s, "..", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid range %q, want START..END", s)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func parseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

func reportRunError(stderr io.Writer, err error) int {
	if errors.Is(err, registry.ErrCaptchaQuit) {
		_, _ = fmt.Fprintln(stderr, "Run aborted by operator at CAPTCHA prompt")
		return 1
	}
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(stderr, "Run interrupted; progress is saved, rerun to resume")
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
