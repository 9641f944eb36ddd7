package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/localstore"
)

// runMergeCmd implements `colascope merge`: consolidate per-worker stores
// into the single store the sync engine reads. Conflicts resolve first
// writer wins per ttb_id, so merge order does not change the outcome.
func runMergeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("merge", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		out        string
		configPath string
	)
	cmd.StringVar(&out, "out", "", "Consolidated store path (default <data-dir>/consolidated.db)")
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
	if out == "" {
		out = filepath.Join(cfg.DataDir, "consolidated.db")
	}

	// Explicit worker names, or every store in the data dir except the
	// consolidated one.
	sources := cmd.Args()
	if len(sources) == 0 {
		matches, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.db"))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		for _, m := range matches {
			if m != out {
				sources = append(sources, strings.TrimSuffix(filepath.Base(m), ".db"))
			}
		}
		sort.Strings(sources)
	}
	if len(sources) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no worker stores found to merge")
		return 2
	}

	store, err := localstore.Open(out)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open %s: %v\n", out, err)
		return 2
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	var totalLinks, totalRecords int64
	for _, worker := range sources {
		src := filepath.Join(cfg.DataDir, worker+".db")
		res, err := store.MergeFrom(ctx, src, log)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: merge %s: %v\n", src, err)
			return 1
		}
		totalLinks += res.LinksMerged
		totalRecords += res.RecordsMerged
		_, _ = fmt.Fprintf(stdout, "merged %s: %d links, %d records\n",
			worker, res.LinksMerged, res.RecordsMerged)
	}

	total, distinct, err := store.LinkIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: integrity check: %v\n", err)
		return 1
	}
	if total != distinct {
		_, _ = fmt.Fprintf(stderr, "%sIntegrity check FAILED: %d links, %d distinct keys%s\n",
			ColorRed, total, distinct, ColorReset)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%sConsolidated %d sources into %s (%d new links, %d new records)%s\n",
		ColorGreen, len(sources), out, totalLinks, totalRecords, ColorReset)
	return 0
}
