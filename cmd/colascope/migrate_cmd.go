package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/colascope/colascope/pkg/config"
	"github.com/colascope/colascope/pkg/syncer"
)

// runMigrateCmd implements `colascope migrate <add-day|fix-year-month>`.
// Each migration is a remote DDL/backfill pair followed by a verification
// query, and is safe to rerun.
func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: colascope migrate <add-day|fix-year-month>")
		return 2
	}
	name := args[0]

	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var configPath string
	cmd.StringVar(&configPath, "config", "", "Config file path")
	if err := cmd.Parse(args[1:]); err != nil {
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

	s := syncer.New(nil, rc, log)
	switch name {
	case "add-day":
		err = s.MigrateAddDay(ctx)
	case "fix-year-month":
		err = s.MigrateFixYearMonth(ctx)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown migration: %s\n", name)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: migration %s: %v\n", name, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%sMigration %s complete%s\n", ColorGreen, name, ColorReset)
	return 0
}
