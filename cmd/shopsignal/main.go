// Package main implements the shopsignal binary: one batch run of the
// behavioral analytics pipeline from a raw event file to a sealed
// analytical store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopsignal/shopsignal/internal/config"
	"github.com/shopsignal/shopsignal/internal/pipeline"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		inputPath   string
		dataDir     string
		asOf        string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&inputPath, "input", "", "Raw event CSV file to process")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for produced artifacts")
	flag.StringVar(&asOf, "as-of", "", "Reference instant for recency/churn arithmetic (RFC 3339)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ShopSignal - Behavioral E-Commerce Event Analytics\n\n")
		fmt.Fprintf(os.Stderr, "Usage: shopsignal [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  shopsignal --input events.csv --data-dir /data/shopsignal --as-of 2019-11-01T00:00:00Z\n")
		fmt.Fprintf(os.Stderr, "  shopsignal --config /etc/shopsignal/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SHOPSIGNAL_INPUT_PATH     Raw event CSV file\n")
		fmt.Fprintf(os.Stderr, "  SHOPSIGNAL_DATA_DIR       Base directory for artifacts\n")
		fmt.Fprintf(os.Stderr, "  SHOPSIGNAL_AS_OF          Reference instant (RFC 3339)\n")
		fmt.Fprintf(os.Stderr, "  SHOPSIGNAL_STORAGE_TYPE   Artifact storage type (local, s3)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("shopsignal version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, inputPath, dataDir, asOf)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// A batch run has no server loop; the signal handler just cancels the
	// context so a long run can be interrupted cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	summary, err := pipeline.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	log.Printf("Run %s complete: %d source rows, %d skipped, store at %s",
		summary.RunID, summary.SourceRows, summary.SkippedRows, summary.StorePath)
}

// loadConfig layers file, environment, then command line flags.
func loadConfig(configFile, inputPath, dataDir, asOf string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if inputPath != "" {
		cfg.InputPath = inputPath
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return nil, fmt.Errorf("invalid --as-of value: %w", err)
		}
		cfg.AsOf = t
	}

	return cfg, nil
}
