package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/localstore"
)

// runStatusCmd implements `colascope status`. It prints the per-month
// progress block for one worker store (or the consolidated store) without
// touching the registry.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		worker     string
		dbPath     string
		configPath string
	)
	cmd.StringVar(&worker, "worker", "", "Worker name (store at <data-dir>/<worker>.db)")
	cmd.StringVar(&dbPath, "db", "", "Explicit store path (overrides --worker)")
	cmd.StringVar(&configPath, "config", "", "Config file path")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if dbPath == "" {
		name := worker
		if name == "" {
			name = "consolidated"
		}
		dbPath = filepath.Join(cfg.DataDir, name+".db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: no store at %s\n", dbPath)
		return 2
	}

	store, err := localstore.Open(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open %s: %v\n", dbPath, err)
		return 2
	}
	defer func() { _ = store.Close() }()

	return printProgressSummary(context.Background(), stdout, stderr, store)
}

// printProgressSummary emits the per-month summary block: expected versus
// collected counts and a pass/fail marker per phase. These markers are what
// the operator reads to decide which months to re-run.
func printProgressSummary(ctx context.Context, stdout, stderr io.Writer, store *localstore.Store) int {
	progress, err := store.AllProgress(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read progress: %v\n", err)
		return 2
	}
	if len(progress) == 0 {
		_, _ = fmt.Fprintln(stdout, "No months tracked yet.")
		return 0
	}

	total, err := store.TotalRecords(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintln(stdout, "")
	_, _ = fmt.Fprintf(stdout, "%sMONTH     LINKS            DETAILS          STATUS%s\n", ColorBold, ColorReset)
	allVerified := true
	for _, p := range progress {
		records, err := store.CountRecords(ctx, p.Year, p.Month)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		marker := ColorGreen + "OK" + ColorReset
		if !p.LinksVerified || !p.DetailsVerified {
			marker = ColorRed + "FAIL" + ColorReset
			allVerified = false
		}
		_, _ = fmt.Fprintf(stdout, "%s   %6d / %-6d  %6d / %-6d  %s\n",
			p.Key(), p.CollectedLinks, p.ExpectedLinks, records, p.ExpectedLinks, marker)
		if p.LastError != "" {
			_, _ = fmt.Fprintf(stdout, "          %slast error: %s%s\n", ColorGray, p.LastError, ColorReset)
		}
	}
	_, _ = fmt.Fprintf(stdout, "\nTotal records: %d\n", total)

	if !allVerified {
		return 1
	}
	return 0
}
