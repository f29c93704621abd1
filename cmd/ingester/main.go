package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/config"
	"climate-explorer/internal/ingest"
	"climate-explorer/internal/repository"
	"climate-explorer/internal/services"
	"climate-explorer/pkg/database"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration first so flags default to it
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dataDir := flag.String("data-dir", cfg.Ingest.DataDir, "Directory containing hourly CSV datasets")
	pattern := flag.String("pattern", cfg.Ingest.Pattern, "Glob pattern of dataset files inside data-dir")
	workers := flag.Int("workers", cfg.Ingest.Workers, "Number of files ingested concurrently")
	flag.Parse()

	cfg.Ingest.DataDir, cfg.Ingest.Pattern, cfg.Ingest.Workers = *dataDir, *pattern, *workers
	cfg.Database.Enabled = true
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("climate-ingester", version, logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting dataset ingestion", logging.Fields{
		"version":  version,
		"data_dir": *dataDir,
		"pattern":  *pattern,
		"workers":  *workers,
	})

	metricsCollector := metrics.NewCollector("climate_ingester", nil)

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.Load(cfg.Catalog.Path); err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to load variable catalog", logging.Fields{
				"path": cfg.Catalog.Path,
			}, err)
		}
	}

	db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewDatasetRepository(db, logger, metricsCollector)
	datasetService := services.NewDatasetService(repo, ingest.NewReader(cat, logger), logger, metricsCollector)

	result, err := datasetService.IngestDirectory(ctx, *dataDir, *pattern, *workers)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"data_dir": *dataDir,
		}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:    %s\n", humanize.Comma(int64(result.TotalFiles)))
	fmt.Printf("Imported:       %s\n", humanize.Comma(int64(len(result.Imported))))
	fmt.Printf("Failed:         %s\n", humanize.Comma(int64(result.Failed())))
	fmt.Printf("Total Rows:     %s\n", humanize.Comma(int64(result.TotalRows)))
	fmt.Printf("Duration:       %v\n", result.Duration)
	if secs := result.Duration.Seconds(); secs > 0 {
		fmt.Printf("Rows/Second:    %s\n", humanize.CommafWithDigits(float64(result.TotalRows)/secs, 1))
	}

	if len(result.Imported) > 0 {
		fmt.Println("\nDatasets:")
		for _, info := range result.Imported {
			fmt.Printf("  %s  %-24s %s rows, %d columns\n",
				info.ID, info.Name, humanize.Comma(int64(info.RowCount)), len(info.Columns))
		}
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion finished", logging.Fields{
		"imported":         len(result.Imported),
		"failed":           result.Failed(),
		"total_rows":       result.TotalRows,
		"duration_seconds": result.Duration.Seconds(),
	})

	if result.Failed() > 0 {
		os.Exit(2)
	}
}
