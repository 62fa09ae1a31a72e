package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callinsights/hub/internal/config"
	"github.com/callinsights/hub/internal/observability"
	"github.com/callinsights/hub/migrations"
	"github.com/callinsights/hub/pkg/database"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return 1
	}

	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool

	if cfg.StorageBackend == config.BackendPostgres {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)

			return 1
		}
		defer db.Close()
	} else {
		slog.Warn("using in-memory storage; calls, jobs and cache entries are lost on restart")
	}

	app, err := NewApp(ctx, cfg, db)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)

		return 1
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		slog.Error("Component failed", "error", runErr)
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)

		return 1
	}

	slog.Info("Server exited")

	if runErr != nil {
		return 1
	}

	return 0
}

// openDatabase applies migrations on a plain pool (the vector extension may not exist yet),
// then opens the serving pool with pgvector types registered.
func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	bootstrap, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithMaxConns(2), database.WithApplicationName(serviceName+"-migrate"))
	if err != nil {
		return nil, err
	}

	err = migrations.Apply(ctx, bootstrap)

	bootstrap.Close()

	if err != nil {
		return nil, err
	}

	return database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithVectorTypes(), database.WithApplicationName(serviceName))
}

// setupLogging configures slog with the level from config. The TraceContextHandler adds
// request_id, job_id and trace ids from the record's context.
func setupLogging(level string) {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(handler)))
}
