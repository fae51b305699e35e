// Command backend runs the parking structure HTTP API: event ingestion,
// floor occupancy queries, recommendations, and operational monitoring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartpark/sentinel/internal/api"
	"github.com/smartpark/sentinel/internal/config"
	"github.com/smartpark/sentinel/internal/database"
	"github.com/smartpark/sentinel/internal/events"
	"github.com/smartpark/sentinel/internal/floors"
	"github.com/smartpark/sentinel/internal/monitoring"
)

const defaultConfigPath = "/data/backend.yaml"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	configPath := getEnv("CONFIG_PATH", defaultConfigPath)
	cfg, err := config.LoadBackendConfig(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", configPath)
		os.Exit(1)
	}

	if err := cfg.Watch(); err != nil {
		slog.Warn("failed to watch configuration file for changes", "error", err)
	}

	slog.Info("starting backend", "version", cfg.Version, "database", cfg.Database.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(&database.Config{Path: cfg.Database.Path})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	migrator := database.NewMigrator(db)
	if err := migrator.Run(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	mon := monitoring.New(cfg.Monitoring.HistorySize, monitoring.Thresholds{
		ErrorRate:            cfg.Monitoring.ErrorRateThreshold,
		LatencyMillis:        cfg.Monitoring.LatencyMillisThreshold,
		LowAvailabilitySlots: cfg.Monitoring.LowAvailabilitySlots,
	})

	router := api.NewRouter(api.Deps{
		DB:                db,
		Events:            events.New(db),
		Floors:            floors.New(db),
		Monitoring:        mon,
		Config:            cfg,
		IdempotencyWindow: 5 * time.Second,
	})

	cfg.OnChange(func(c *config.BackendConfig) {
		slog.Info("configuration reloaded", "rate_limit", c.API.RateLimit)
	})

	addr := fmt.Sprintf(":%s", getEnv("PORT", "8080"))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
