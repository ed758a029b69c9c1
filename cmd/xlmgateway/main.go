// Command xlmgateway serves a development XlmEcosystemService over gRPC, backed by the
// echo, Ollama and OpenAI-compatible providers, plus a small admin HTTP API.
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

	"github.com/matiasleandrokruk/xlmsession/internal/infra/config"
	"github.com/matiasleandrokruk/xlmsession/internal/server"
	"github.com/matiasleandrokruk/xlmsession/internal/version"
)

const binary = "xlmgateway"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.GatewayFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return 2
	}

	fs := pflag.NewFlagSet(binary, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", cfg.Listen, "gRPC listen address")
	admin := fs.String("admin", cfg.Admin, "admin HTTP listen address (empty disables)")
	providers := fs.String("providers", cfg.ProvidersFile, "YAML provider catalog")
	authSecret := fs.String("auth-secret", cfg.AuthSecret, "require bearer tokens signed with this HMAC secret")
	logLevel := fs.String("log-level", cfg.Log.Level, "debug, info, warn or error")
	logFormat := fs.String("log-format", cfg.Log.Format, "text or json")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String(binary)) //nolint:errcheck
		return 0
	}

	if fs.Changed("providers") {
		if err := cfg.LoadProviders(*providers); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
			return 2
		}
	}
	// Flags given on the command line win over the catalog file.
	if fs.Changed("listen") || cfg.Listen == "" {
		cfg.Listen = *listen
	}
	if fs.Changed("admin") {
		cfg.Admin = *admin
	}
	if fs.Changed("auth-secret") {
		cfg.AuthSecret = *authSecret
	}
	cfg.Log = config.Log{Level: *logLevel, Format: *logFormat}

	logger, err := cfg.Log.Logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return 2
	}
	router, err := cfg.Router()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", binary, err) //nolint:errcheck
		return 2
	}

	serverCfg := server.DefaultConfig()
	serverCfg.GRPCAddr = cfg.Listen
	serverCfg.AdminAddr = cfg.Admin
	serverCfg.AuthSecret = cfg.AuthSecret

	logger.Info("starting gateway", "version", version.Version, "providers", len(router.Providers()), "auth", cfg.AuthSecret != "")
	if err := server.New(router, serverCfg, logger).Start(ctx); err != nil {
		logger.Error("gateway stopped", "error", err)
		return 1
	}
	return 0
}
