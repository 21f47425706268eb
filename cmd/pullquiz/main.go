// PullQuiz session engine server — owns live game sessions, serves the
// WebSocket game protocol, and exposes the control API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/pullquiz/pullquiz/pkg/api"
	"github.com/pullquiz/pullquiz/pkg/cleanup"
	"github.com/pullquiz/pullquiz/pkg/config"
	"github.com/pullquiz/pullquiz/pkg/database"
	"github.com/pullquiz/pullquiz/pkg/engine"
	"github.com/pullquiz/pullquiz/pkg/statestore"
	"github.com/pullquiz/pullquiz/pkg/storage"
	"github.com/pullquiz/pullquiz/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to environment file")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(),
		TimeFormat: time.Kitchen,
	})))

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	slog.Info("Starting PullQuiz session engine", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to PostgreSQL and run migrations
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Open the session state store
	states, err := statestore.Open(statestore.DefaultConfig(cfg.StateDir))
	if err != nil {
		slog.Error("Failed to open state store", "path", cfg.StateDir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := states.Close(); err != nil {
			slog.Error("Error closing state store", "error", err)
		}
	}()
	slog.Info("State store opened", "path", cfg.StateDir)

	// 4. Create the engine manager
	adapter := storage.NewAdapter(dbClient.DB())
	manager := engine.NewManager(engine.Config{
		HelloTimeout:       cfg.HelloTimeout,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		WriteTimeout:       cfg.WriteTimeout,
		IdleTimeout:        cfg.IdleTimeout,
	}, adapter, states)
	slog.Info("Engine manager initialized", "owner", manager.Owner())

	// 5. Start the retention sweeper for hibernated state
	sweeper := cleanup.NewService(cleanup.Config{
		StateRetention: cfg.StateRetention,
		SweepInterval:  cfg.SweepInterval,
		BatchSize:      500,
	}, adapter, states)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 6. Create and start the HTTP server (non-blocking)
	httpServer := api.NewServer(dbClient, adapter, manager)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting HTTP, then persist and stop
	// every live engine.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	manager.Shutdown(shutdownCtx)

	slog.Info("Shutdown complete")
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
