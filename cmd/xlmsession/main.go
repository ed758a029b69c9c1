// Command xlmsession runs one client session against an XLM ecosystem gateway and prints
// each phase as it completes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/matiasleandrokruk/xlmsession/internal/console"
	"github.com/matiasleandrokruk/xlmsession/internal/domain/history"
	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/config"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/gateway"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/sqlite"
	"github.com/matiasleandrokruk/xlmsession/internal/version"
)

const binary = "xlmsession"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return runSession(ctx, args, stdout, stderr)
	case "history":
		return runHistory(ctx, args, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String(binary)) //nolint:errcheck
		return exitOK
	case "help":
		printHelp(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "%s: unknown command %q\n\n", binary, cmd) //nolint:errcheck
		printHelp(stderr)
		return exitUsage
	}
}

func runSession(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet(binary+" run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.NewClientFlags(fs)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String(binary)) //nolint:errcheck
		return exitOK
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "%s: unexpected argument %q\n", binary, fs.Arg(0)) //nolint:errcheck
		return exitUsage
	}

	cfg, err := flags.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return exitUsage
	}
	logger, err := cfg.Log.Logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return exitUsage
	}

	var store *history.Store
	if cfg.HistoryPath != "" {
		db, err := sqlite.Open(cfg.HistoryPath)
		if err != nil {
			logger.Error("open history", "path", cfg.HistoryPath, "error", err)
			return exitFailed
		}
		defer db.Close()
		store = history.NewStore(db)
	}

	dc := cfg.DialConfig()
	dc.Logger = logger
	client, err := gateway.Dial(dc)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return exitUsage
	}
	defer client.Close() //nolint:errcheck

	color := console.IsTerminal(stdout)
	orc := session.New(client,
		session.WithObserver(console.NewPrinter(stdout, color)),
		session.WithLogger(logger),
		session.WithTimeouts(cfg.CallTimeout, cfg.StreamTimeout, cfg.TeardownTimeout),
	)

	report := orc.Run(ctx, cfg.Input())

	fmt.Fprintln(stdout) //nolint:errcheck
	if err := console.RenderReport(stdout, report, color); err != nil {
		logger.Warn("render report", "error", err)
	}
	if store != nil {
		id, err := store.Record(context.WithoutCancel(ctx), report)
		if err != nil {
			logger.Warn("record session", "error", err)
		} else {
			logger.Debug("session recorded", "id", id)
		}
	}

	return exitCode(report)
}

func exitCode(r *session.Report) int {
	if r.Status == session.StatusFailed {
		return exitFailed
	}
	return exitOK
}

func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet(binary+" history", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("history", os.Getenv("XLM_HISTORY"), "sqlite file recording finished sessions")
	limit := fs.IntP("limit", "n", history.DefaultLimit, "number of sessions to list")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *path == "" {
		fmt.Fprintf(stderr, "%s: %v: history path is required (--history or XLM_HISTORY)\n", binary, session.ErrConfiguration) //nolint:errcheck
		return exitUsage
	}

	db, err := sqlite.Open(*path)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return exitFailed
	}
	defer db.Close()

	entries, err := history.NewStore(db).Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return exitFailed
	}
	if err := console.RenderHistory(stdout, entries, console.IsTerminal(stdout)); err != nil {
		return exitFailed
	}
	return exitOK
}

func printHelp(out io.Writer) {
	helpText := `xlmsession - run a client session against an XLM ecosystem gateway

Usage:
  xlmsession [run] [flags]
  xlmsession history [--history path] [--limit n]
  xlmsession version

A session registers a fresh client id, lists providers, negotiates capabilities with
--provider, runs a synchronous and a streaming completion of --prompt, requests an
embedding when the provider supports it, and always unregisters before exiting.

Every flag has an XLM_* environment variable (XLM_HOST, XLM_PROVIDER, ...) and may be
set in a YAML profile given with --profile. Flags win over the profile, the profile
wins over the environment.

Exit codes:
  0  the session succeeded or degraded
  1  the session failed
  2  usage or configuration error (nothing was sent)

Examples:
  xlmsession --provider openai --model gpt-4o --prompt "Hello there"
  xlmsession --host gw.internal --tls --provider ollama --model llama3.2:3b --prompt Hi
  xlmsession history --history ~/.xlmsession.db`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
