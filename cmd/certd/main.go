package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/acmeclient"
	"github.com/caasmo/certd/metrics"
	"github.com/caasmo/certd/notify"
	"github.com/caasmo/certd/toolkit"
	"github.com/caasmo/certd/zombiezen"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires the daemon and returns the process exit code.
func run(args []string) int {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	acmeclient.RouteLegoLogs(logger)

	// --- Flags ---
	var configPath string
	var envFile string
	var once bool
	flags := flag.NewFlagSet("certd", flag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "optional path to a settings TOML file")
	flags.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	flags.BoolVar(&once, "once", false, "run a single pass and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("Failed to load env file", "path", envFile, "error", err)
			return 1
		}
	}

	// --- Configuration Loading ---
	settings, err := certd.LoadSettings(configPath, os.Environ())
	if err != nil {
		logger.Error("Failed to load settings", "path", configPath, "error", err)
		return 1
	}
	logger.Info("Settings loaded",
		"ca", settings.CADirectoryURL,
		"cert_dir", settings.CertDir,
		"domains_file", settings.DomainsFile,
		"key_type", settings.KeyType,
		"chained", settings.Chained,
		"default_notify", settings.DefaultNotify,
	)

	tk, err := toolkit.New(settings.KeyType)
	if err != nil {
		logger.Error("Failed to create toolkit", "error", err)
		return 1
	}

	if err := certd.Bootstrap(certd.NewLayout(settings), tk, logger); err != nil {
		logger.Error("Failed to prepare certificate layout", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []certd.Option

	// --- History Database ---
	if settings.HistoryDB != "" {
		db, err := zombiezen.Open(ctx, settings.HistoryDB)
		if err != nil {
			logger.Error("Failed to open history database", "path", settings.HistoryDB, "error", err)
			return 1
		}
		defer db.Close()
		opts = append(opts, certd.WithHistory(db))
	}

	// --- Metrics ---
	if settings.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, certd.WithMetrics(metrics.New(reg)))
		go func() {
			if err := metrics.Serve(ctx, settings.MetricsAddr, reg, logger.With("component", "metrics")); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	signer := acmeclient.New(logger, acmeclient.WithEmail(settings.Email))
	notifier := notify.New(settings.NotifyRuntime, settings.NotifySignal, logger)
	daemon := certd.NewDaemon(settings, tk, signer, notifier, logger, opts...)

	if once {
		res := daemon.RunOnce(ctx)
		if len(res.Failed) > 0 {
			return 1
		}
		return 0
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Daemon stopped", "error", err)
		return 1
	}
	logger.Info("Daemon stopped")
	return 0
}
