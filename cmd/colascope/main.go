package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/colascope/colascope/pkg/config"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "scrape":
		return runScrapeCmd(args[2:], stdout, stderr)
	case "merge":
		return runMergeCmd(args[2:], stdout, stderr)
	case "sync":
		return runSyncCmd(args[2:], stdout, stderr)
	case "classify":
		return runClassifyCmd(args[2:], stdout, stderr)
	case "index":
		return runIndexCmd(args[2:], stdout, stderr)
	case "migrate":
		return runMigrateCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%scolascope%s — label approval registry pipeline\n", ColorBold+ColorCyan, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  colascope <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ACQUISITION")
	printCommand(w, "scrape", "Run an acquisition worker (links + details)")
	printCommand(w, "merge", "Consolidate per-worker stores into one")
	printCommand(w, "status", "Show per-month progress for a worker store")

	printSection(w, "REMOTE DATABASE")
	printCommand(w, "sync", "Export the consolidated store (--full, --incremental)")
	printCommand(w, "classify", "Assign first-observation signals and refile counts")
	printCommand(w, "index", "Maintain company and brand index tables")
	printCommand(w, "migrate", "Run a remote schema migration (add-day, fix-year-month)")

	printSection(w, "UTILITIES")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// newLogger builds the process logger at the configured level. All command
// output the operator reads goes to stdout; logs go to stderr.
func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}
