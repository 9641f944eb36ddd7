package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/indexer"
	"github.com/colascope/colascope/pkg/localstore"
)

// runIndexCmd implements `colascope index`: push brand slugs and new
// company aliases from the consolidated store to the remote index tables.
// Maintenance flags run the duplicate-alias merge and the filing-total
// refresh instead.
func runIndexCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("index", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		mergeDuplicates bool
		refreshTotals   bool
		dbPath          string
		configPath      string
	)
	cmd.BoolVar(&mergeDuplicates, "merge-duplicates", false, "Fold case-variant duplicate companies to one id")
	cmd.BoolVar(&refreshTotals, "refresh-totals", false, "Recompute per-company filing totals")
	cmd.StringVar(&dbPath, "db", "", "Local store path (default <data-dir>/consolidated.db)")
	cmd.StringVar(&configPath, "config", "", "Config file path")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	log := newLogger(cfg, stderr)

	rc, code := openRemote(cfg, log, stderr)
	if rc == nil {
		return code
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if mergeDuplicates || refreshTotals {
		ix := indexer.New(nil, rc, log)
		if mergeDuplicates {
			merged, err := ix.MergeDuplicates(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: merge duplicates: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintf(stdout, "Rewrote %d duplicate aliases\n", merged)
		}
		if refreshTotals {
			if err := ix.RefreshCompanyTotals(ctx); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: refresh totals: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintln(stdout, "Company filing totals refreshed")
		}
		return 0
	}

	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "consolidated.db")
	}
	local, err := localstore.Open(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open %s: %v\n", dbPath, err)
		return 2
	}
	defer func() { _ = local.Close() }()

	stats, err := indexer.New(local, rc, log).Update(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: index update: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%sIndex updated: %d brand slugs, %d companies, %d aliases%s\n",
		ColorGreen, stats.BrandSlugs, stats.NewCompanies, stats.NewAliases, ColorReset)
	return 0
}
