package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/remote"
	"github.com/colascope/colascope/pkg/syncer"
)

// runSyncCmd implements `colascope sync`: export the consolidated store to
// the remote database, either incrementally (skip months whose remote count
// already matches) or as a full schema reset.
func runSyncCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		full        bool
		incremental bool
		dbPath      string
		configPath  string
	)
	cmd.BoolVar(&full, "full", false, "Drop and recreate the remote schema, then export everything")
	cmd.BoolVar(&incremental, "incremental", false, "Export only months the remote store is missing (default)")
	cmd.StringVar(&dbPath, "db", "", "Local store path (default <data-dir>/consolidated.db)")
	cmd.StringVar(&configPath, "config", "", "Config file path")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if full && incremental {
		_, _ = fmt.Fprintln(stderr, "Error: --full and --incremental are mutually exclusive")
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

	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "consolidated.db")
	}
	local, err := localstore.Open(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open %s: %v\n", dbPath, err)
		return 2
	}
	defer func() { _ = local.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := syncer.New(local, rc, log)
	var stats syncer.Stats
	if full {
		stats, err = s.FullSync(ctx)
	} else {
		stats, err = s.IncrementalSync(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sync: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%sSync complete: %d records sent, %d months skipped, %d calls%s\n",
		ColorGreen, stats.RecordsSent, stats.MonthsSkipped, stats.Calls, ColorReset)
	return 0
}

// openRemote validates the remote credentials and builds the client. On
// failure it prints the error and returns nil with the exit code.
func openRemote(cfg *config.Config, log *slog.Logger, stderr io.Writer) (*remote.Client, int) {
	if err := cfg.Remote.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	return remote.New(cfg.Remote, cfg.RemoteTimeout, log), 0
}
