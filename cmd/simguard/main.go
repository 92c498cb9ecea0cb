// SIMGuard - SIM-swap fraud detection for telecom activity logs.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/simguard/internal/analysis"
	"github.com/opensource-finance/simguard/internal/api"
	"github.com/opensource-finance/simguard/internal/batch"
	"github.com/opensource-finance/simguard/internal/bus"
	"github.com/opensource-finance/simguard/internal/cache"
	"github.com/opensource-finance/simguard/internal/config"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/repository"
	"github.com/opensource-finance/simguard/internal/rules"
	"github.com/opensource-finance/simguard/internal/session"
	"github.com/opensource-finance/simguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $SIMGUARD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(config.Options{Path: *configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting simguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"workers", cfg.Analysis.Workers,
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

	policy, err := loadPolicy(ctx, repo, cfg.Policy)
	if err != nil {
		slog.Error("failed to load policy", "error", err)
		os.Exit(1)
	}

	// Initialize Rule Engine with the stored custom rules
	engine, err := rules.NewEngine(policy, loadCustomRules(ctx, repo))
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized",
		"rules_count", engine.RulesCount(),
		"policy_version", policy.Version,
	)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	store := session.NewStore(cacheImpl, cfg.Analysis.SessionTTL)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	evaluator := batch.NewEvaluator(engine, cfg.Analysis.Workers)
	service := analysis.NewService(store, evaluator, busImpl)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Analysis.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, service)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "topic", domain.TopicAnalysisRequested)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:          repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		Engine:        engine,
		Session:       store,
		Analysis:      service,
		AsyncAnalysis: asyncWorker != nil,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("simguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, policy.Version, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("simguard shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("SIMGUARD_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadPolicy returns the most recently stored policy. On first start the
// configured policy is stored as the initial version.
func loadPolicy(ctx context.Context, repo domain.Repository, configured domain.Policy) (domain.Policy, error) {
	stored, err := repo.LatestPolicy(ctx)
	if err == nil {
		slog.Info("loaded stored policy", "version", stored.Version)
		return *stored, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Policy{}, err
	}

	if err := repo.SavePolicy(ctx, &configured); err != nil {
		return domain.Policy{}, fmt.Errorf("failed to store initial policy: %w", err)
	}
	slog.Info("stored initial policy", "version", configured.Version)
	return configured, nil
}

// loadCustomRules loads user-defined rules from the database. Built-in
// rules are always present; a failure here starts with built-ins only.
func loadCustomRules(ctx context.Context, repo domain.Repository) []*domain.RuleConfig {
	custom, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return nil
	}

	if len(custom) > 0 {
		slog.Info("loading custom rules from database", "count", len(custom))
	}
	return custom
}

func printBanner(cfg *domain.Config, policyVersion, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               SIMGUARD                    ║")
	fmt.Println("  ║       SIM-Swap Fraud Detection            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Policy:   %s\n", policyVersion)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /upload            - Upload an activity log (CSV)")
	fmt.Println("    POST /analyze           - Score every user in the upload")
	fmt.Println("    GET  /results           - Latest analysis (?tier=, ?suspicious=)")
	fmt.Println("    GET  /results/{userID}  - One user's evaluation")
	fmt.Println("    GET  /report            - Flagged users as CSV")
	fmt.Println("    POST /evaluate          - Score one user's events directly")
	fmt.Println("    GET  /rules             - List loaded rules")
	fmt.Println("    POST /rules             - Add a custom CEL rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /policy            - Active thresholds and weights")
	fmt.Println("    PUT  /policy            - Activate a new policy version")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
