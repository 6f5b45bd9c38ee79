package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/caasmo/certd"
)

func generateBlueprintConfig(staging bool) certd.Settings {
	cfg := certd.DefaultSettings()
	cfg.Email = "your-acme-account@example.com"
	cfg.DefaultNotify = []string{"nginx"}
	cfg.DhMaxAgeDays = 60
	cfg.HistoryDB = "crt/history.db"
	if staging {
		cfg.CADirectoryURL = certd.StagingCADirectoryURL
	}
	return cfg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	outputFileFlag := flag.String("output", "certd.blueprint.toml", "Output file path for the blueprint TOML configuration")
	flag.StringVar(outputFileFlag, "o", "certd.blueprint.toml", "Output file path (shorthand)")
	staging := flag.Bool("staging", false, "Use the Let's Encrypt staging directory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates a blueprint certd TOML settings file with example values.\n")
		fmt.Fprintf(os.Stderr, "Environment variables override every value in the file.\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	blueprintCfg := generateBlueprintConfig(*staging)
	if err := blueprintCfg.Validate(); err != nil {
		logger.Error("Blueprint config does not validate", "error", err)
		os.Exit(1)
	}

	tomlBytes, err := toml.Marshal(blueprintCfg)
	if err != nil {
		logger.Error("Failed to marshal blueprint config to TOML", "error", err)
		os.Exit(1)
	}

	logger.Info("Writing blueprint configuration", "path", *outputFileFlag)
	err = os.WriteFile(*outputFileFlag, tomlBytes, 0644)
	if err != nil {
		logger.Error("Failed to write blueprint config file",
			"path", *outputFileFlag,
			"error", err)
		os.Exit(1)
	}

	logger.Info("Blueprint configuration generated successfully", "path", *outputFileFlag)
	logger.Warn("Review the generated file and replace the example email and notify targets.")
}
