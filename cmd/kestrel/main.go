// Kestrel - Rolling-window sales analytics for the superstore dataset.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Profile defaults, then the optional TOML file, then KESTREL_* overrides
	cfg, err := config.Load(os.Getenv("KESTREL_PROFILE"), os.Getenv("KESTREL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

// run starts every component in dependency order and tears them down in
// reverse once ctx is cancelled or the server fails.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"result_ttl", cfg.Analytics.ResultTTL.String(),
	)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer resultCache.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	// Every instance flushes its own cache when the dataset is reloaded
	invalidator := worker.NewInvalidator(eventBus, resultCache)
	if err := invalidator.Start(); err != nil {
		return fmt.Errorf("cache invalidator: %w", err)
	}
	defer func() {
		if err := invalidator.Stop(); err != nil {
			slog.Error("failed to stop cache invalidator", "error", err)
		}
	}()

	svc := analytics.NewService(repo, resultCache, cfg.Analytics)
	logDataset(ctx, svc)

	srv := api.NewServer(cfg.Server, svc, repo, resultCache, eventBus, cfg.Analytics.DefaultWindowDays, Version)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	slog.Info("kestrel is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// logDataset reports the loaded date range, warning when nothing is loaded.
func logDataset(ctx context.Context, svc *analytics.Service) {
	bounds, err := svc.DateRange(ctx)
	switch {
	case err != nil:
		slog.Warn("failed to read dataset range", "error", err)
	case bounds.Min == nil:
		slog.Warn("superstore table is empty, load it with kestrel-load")
	default:
		slog.Info("dataset available",
			"from", bounds.Min.Format(domain.DateLayout),
			"to", bounds.Max.Format(domain.DateLayout),
		)
	}
}

// newLogger builds the process logger. KESTREL_DEBUG=true forces debug level.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |       Rolling-window sales analytics      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Database: %s\n", cfg.Repository.Driver)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /range             - Observed order date range")
	fmt.Println("    GET  /aggregate         - Current vs previous window")
	fmt.Println("    GET  /detail            - Daily series of a metric")
	fmt.Println("    GET  /breakdown         - Category / sub-category cross-tab")
	fmt.Println("    GET  /orders            - Order detail table")
	fmt.Println("    GET  /kpis              - Headline KPI cards")
	fmt.Println("    GET  /dashboard         - Every widget in one call")
	fmt.Println("    POST /cache/invalidate  - Drop cached results")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
