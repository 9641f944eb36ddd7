package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/colascope/colascope/pkg/classify"
	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/config"
)

// runClassifyCmd implements `colascope classify`: the chronological
// two-pass classification over the full remote corpus, ending with the
// grouped signal updates.
func runClassifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("classify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var configPath string
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

	stats, err := classify.New(rc, log).Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: classify: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%sClassified %d records (%d updated)%s\n",
		ColorGreen, stats.Records, stats.Updated, ColorReset)
	for _, sig := range []cola.Signal{
		cola.SignalNewCompany, cola.SignalNewBrand, cola.SignalNewSKU,
		cola.SignalRefile, cola.SignalLegacy,
	} {
		_, _ = fmt.Fprintf(stdout, "  %-12s %d\n", sig, stats.BySignal[sig])
	}
	return 0
}
