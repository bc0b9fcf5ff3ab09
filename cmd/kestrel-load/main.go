// Loader for the superstore order table.
//
// Usage:
//
//	go run ./cmd/kestrel-load -csv /path/to/superstore.csv
//
// This tool:
//  1. Reads a CSV export of the superstore spreadsheet
//  2. Normalises column headers (lowercase, spaces/slashes/hyphens to underscores)
//  3. Replaces the contents of the superstore table in one transaction,
//     or appends in batches with -append
//  4. Announces the refresh so running servers drop their cached results
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func main() {
	csvPath := flag.String("csv", "", "Path to the superstore CSV export")
	batchSize := flag.Int("batch", 1000, "Rows inserted per transaction with -append")
	appendRows := flag.Bool("append", false, "Keep existing rows instead of replacing them")
	publish := flag.Bool("publish", true, "Publish a dataset refresh event when done")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: kestrel-load -csv /path/to/superstore.csv")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(os.Getenv("KESTREL_PROFILE"), os.Getenv("KESTREL_CONFIG"))
	if err != nil {
		fmt.Printf("ERROR: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, *csvPath, *batchSize, *appendRows, *publish); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config, path string, batchSize int, appendRows, publish bool) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Printf("Reading %s...\n", path)
	orders, err := readOrders(file)
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}
	fmt.Printf("✓ Parsed %d orders\n", len(orders))

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer repo.Close()

	start := time.Now()
	if appendRows {
		err = loadBatches(ctx, repo, orders, batchSize)
	} else {
		err = replaceAll(ctx, repo, orders)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ Loaded %d orders into %s (%s) in %s\n",
		len(orders), domain.TableName, repo.Driver(), time.Since(start).Round(time.Millisecond))

	if !publish {
		return nil
	}
	if !announces(cfg.EventBus) {
		fmt.Printf("• Skipped refresh event: the %s bus does not reach other processes\n", cfg.EventBus.Type)
		fmt.Printf("  Running servers serve cached results for up to %s, or POST /cache/invalidate\n", cfg.Analytics.ResultTTL)
		return nil
	}

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer eventBus.Close()

	event := domain.DatasetRefreshed{Source: path, Rows: len(orders)}
	if err := worker.PublishRefreshed(ctx, eventBus, event); err != nil {
		return fmt.Errorf("failed to publish refresh event: %w", err)
	}
	fmt.Printf("✓ Published %s on %s bus\n", domain.TopicDatasetRefreshed, cfg.EventBus.Type)
	return nil
}

// announces reports whether a refresh event on cfg reaches running servers.
// The channel bus lives inside this process and has no subscribers here.
func announces(cfg domain.EventBusConfig) bool {
	return cfg.Type != "channel"
}

// replaceAll swaps the table contents for orders in a single transaction.
func replaceAll(ctx context.Context, repo domain.Repository, orders []*domain.Order) error {
	bar := progressbar.Default(int64(len(orders)), "loading")
	defer bar.Close()

	if err := repo.ReplaceOrders(ctx, orders, func(n int) { _ = bar.Add(n) }); err != nil {
		return fmt.Errorf("failed to replace %s, previous rows kept: %w", domain.TableName, err)
	}
	return nil
}

// loadBatches appends orders in transactions of batchSize rows.
// Batches committed before a failure stay in the table.
func loadBatches(ctx context.Context, repo domain.Repository, orders []*domain.Order, batchSize int) error {
	bar := progressbar.Default(int64(len(orders)), "loading")
	defer bar.Close()

	for from := 0; from < len(orders); from += batchSize {
		to := min(from+batchSize, len(orders))
		if err := repo.LoadOrders(ctx, orders[from:to]); err != nil {
			return fmt.Errorf("failed to load rows %d-%d: %w", from+1, to, err)
		}
		_ = bar.Add(to - from)
	}
	return nil
}
