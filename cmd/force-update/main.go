package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/caasmo/certd"
)

// force-update drops the marker that makes a waiting daemon start its next pass now.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var configPath string
	flag.StringVar(&configPath, "config", "", "optional path to a settings TOML file")
	flag.Parse()

	settings, err := certd.LoadSettings(configPath, os.Environ())
	if err != nil {
		logger.Error("Failed to load settings", "path", configPath, "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(settings.ForceUpdateFile, nil, 0o644); err != nil {
		logger.Error("Failed to create force update marker", "path", settings.ForceUpdateFile, "error", err)
		os.Exit(1)
	}
	logger.Info("Force update requested", "path", settings.ForceUpdateFile)
}
