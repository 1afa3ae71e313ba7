package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"elbetl/internal/blob"
	"elbetl/internal/config"
	"elbetl/internal/export"
	"elbetl/internal/geo"
	"elbetl/internal/parser"
	"elbetl/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "geocache":
		geocacheCommand(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: elbetl <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  run       Process the access logs end to end")
	fmt.Println("  geocache  Show geolocation cache statistics")
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yml", "Path to config file")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Parse(args)

	log := newLogger(*verbose)
	slog.SetDefault(log)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if cfg.S3.Bucket == "" {
		log.Error("no bucket configured; set s3.bucket or S3_BUCKET")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := blob.NewS3Source(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix, log)
	if err != nil {
		log.Error("failed to initialize S3 source", "err", err)
		os.Exit(1)
	}

	p, err := parser.NewELBParser(log)
	if err != nil {
		log.Error("failed to initialize parser", "err", err)
		os.Exit(1)
	}

	cache, err := geo.OpenCache(cfg.Geo.CachePath, log)
	if err != nil {
		log.Error("failed to open geo cache", "err", err)
		os.Exit(1)
	}
	defer cache.Close()

	client := geo.NewClientWithConfig(log, geo.ClientConfig{BaseURL: cfg.Geo.BaseURL})
	resolver := geo.NewResolver(client, cfg.Geo.LookupRPS, log)

	exporter, err := export.NewExporter(export.Dirs{
		Cleaned:    cfg.Output.CleanedDir,
		Aggregates: cfg.Output.AggregatesDir,
		Reports:    cfg.Output.ReportsDir,
	}, log)
	if err != nil {
		log.Error("failed to initialize exporter", "err", err)
		os.Exit(1)
	}
	defer exporter.Close()

	manifest := export.NewManifestWriter(cfg.Output.ManifestPath)

	runner := pipeline.NewRunner(cfg, source, p, cache, resolver, exporter, manifest, log)
	m, err := runner.Run(ctx)
	if err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}

	log.Info("run complete",
		"files", m.FilesProcessed,
		"records", m.RecordsExported,
		"new_ips", m.NewIPsResolved,
		"duration_ms", m.DurationMS)
}

func geocacheCommand(args []string) {
	fs := flag.NewFlagSet("geocache", flag.ExitOnError)
	configPath := fs.String("config", "config.yml", "Path to config file")
	fs.Parse(args)

	log := newLogger(false)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	cache, err := geo.OpenCache(cfg.Geo.CachePath, log)
	if err != nil {
		log.Error("failed to open geo cache", "err", err)
		os.Exit(1)
	}
	defer cache.Close()

	entries, err := cache.Load()
	if err != nil {
		log.Error("failed to read geo cache", "err", err)
		os.Exit(1)
	}

	var failures int
	for _, e := range entries {
		if e.IsError() {
			failures++
		}
	}
	fmt.Printf("Cache file:      %s\n", cfg.Geo.CachePath)
	fmt.Printf("Cached IPs:      %d\n", len(entries))
	fmt.Printf("Failed lookups:  %d\n", failures)
}
