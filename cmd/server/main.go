package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/config"
	"climate-explorer/internal/handlers"
	"climate-explorer/internal/ingest"
	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/repository"
	"climate-explorer/internal/services"
	"climate-explorer/internal/summary"
	"climate-explorer/pkg/database"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("climate-explorer-api", version, logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting climate explorer API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"database":    cfg.Database.Enabled,
		"summary":     cfg.Summary.Enabled(),
	})

	metricsCollector := metrics.NewCollector("climate_explorer", nil)

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.Load(cfg.Catalog.Path); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load variable catalog", logging.Fields{
				"path": cfg.Catalog.Path,
			}, err)
		}
	}

	// Persistence is optional; without it uploads live only in their session.
	var repo repository.DatasetRepository
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{
				"db_host": cfg.Database.Host,
				"db_name": cfg.Database.Database,
			}, err)
		}
		defer db.Close()
		repo = repository.NewDatasetRepository(db, logger, metricsCollector)
	}

	var summarizer summary.Summarizer
	if cfg.Summary.Enabled() {
		summarizer = summary.NewClient(cfg.Summary.Client(), logger)
	}

	sessions := services.NewSessionStore(services.SessionOptions{
		TTL:         cfg.Sessions.TTL,
		MaxSessions: cfg.Sessions.MaxSessions,
	}, logger, metricsCollector)
	go sessions.Run(ctx, cfg.Sessions.SweepInterval)

	datasetService := services.NewDatasetService(repo, ingest.NewReader(cat, logger), logger, metricsCollector)
	explorerService := services.NewExplorerService(sessions, pipeline.New(cat), logger, metricsCollector)
	summaryService := services.NewSummaryService(summarizer, explorerService, logger, metricsCollector)

	explorerHandler := handlers.NewExplorerHandler(
		sessions,
		datasetService,
		explorerService,
		summaryService,
		logger,
		metricsCollector,
		cfg.Server.MaxUploadBytes,
	)

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handlers.NewRouter(explorerHandler, handlers.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        promhttp.Handler(),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(shutdownCtx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{
		"active_sessions": sessions.Len(),
	})
}
