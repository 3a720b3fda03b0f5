// Shikra - Hybrid UPI fraud scoring engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/shikra/internal/api"
	"github.com/opensource-finance/shikra/internal/bus"
	"github.com/opensource-finance/shikra/internal/domain"
	"github.com/opensource-finance/shikra/internal/hybrid"
	"github.com/opensource-finance/shikra/internal/ml"
	"github.com/opensource-finance/shikra/internal/pipeline"
	"github.com/opensource-finance/shikra/internal/registry"
	"github.com/opensource-finance/shikra/internal/repository"
	"github.com/opensource-finance/shikra/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("SHIKRA_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting shikra",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SHIKRA_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if url := os.Getenv("SHIKRA_ML_URL"); url != "" {
		cfg.ML.URL = url
	}
	if key := os.Getenv("SHIKRA_ML_API_KEY"); key != "" {
		cfg.ML.APIKey = key
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"registry", cfg.Registry.Type,
		"eventbus", cfg.EventBus.Type,
		"ml_url", cfg.ML.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Risk Registry
	reg, err := registry.New(cfg.Registry)
	if err != nil {
		slog.Error("failed to initialize risk registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()
	slog.Info("risk registry initialized", "type", cfg.Registry.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Evaluator. Catalog integrity problems are fatal:
	// a server with a broken rule configuration must not score anything.
	evaluator, err := rules.NewEvaluator()
	if err != nil {
		slog.Error("rule catalog validation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("rule evaluator initialized", "catalog_size", len(rules.Catalog()))

	// Initialize ML collaborator client
	scorer := ml.NewClient(cfg.ML)
	slog.Info("ml client initialized", "url", cfg.ML.URL)

	// Initialize Hybrid Processor
	processor := hybrid.NewProcessor()
	slog.Info("hybrid processor initialized",
		"rule_weight", processor.RuleWeight,
		"ml_weight", processor.MLWeight,
		"fraud_threshold", processor.FraudThreshold,
	)

	// Initialize Scoring Pipeline
	pipe := pipeline.New(evaluator, reg, scorer, processor, repo, busImpl, 10)
	slog.Info("scoring pipeline initialized")

	// Initialize Server
	srv := api.NewServer(cfg.Server, pipe, evaluator, reg, repo, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shikra is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shikra shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 SHIKRA                   ║")
	fmt.Println("  ║      Hybrid UPI Fraud Scoring Engine      ║")
	fmt.Println("  ║       Rules explain. Models detect.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /batches/score          - Score a transaction batch")
	fmt.Println("    POST   /batches/upload         - Score an uploaded CSV batch")
	fmt.Println("    GET    /batches/{id}/verdicts  - List verdicts for a batch")
	fmt.Println("    GET    /verdicts/{id}          - Get verdict by ID")
	fmt.Println("    GET    /rules                  - List catalog and custom rules")
	fmt.Println("    POST   /rules/custom           - Add a custom CEL rule")
	fmt.Println("    GET    /registry               - Dump counterparty risk registry")
	fmt.Println("    PUT    /registry/{vpa}         - Set counterparty risk")
	fmt.Println("    DELETE /registry/{vpa}         - Remove counterparty risk")
	fmt.Println("    GET    /health                 - Health check")
	fmt.Println()
}
