// Command weft runs the workflow engine behind an MCP stdio transport.
// Logs go to stderr: stdout belongs to the protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/handlers"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/scheduler"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			printVersion()
			return
		case "serve":
			// fall through to serve
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (expected: serve, version)\n", os.Args[1])
			os.Exit(2)
		}
	}

	if err := serve(); err != nil {
		fmt.Fprintf(os.Stderr, "weft: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	if overrides := cfg.Overrides(); len(overrides) > 0 {
		logger.Info("configuration overrides", slog.Any("settings", overrides))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	collector := metrics.NewCollector("weft", logger)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	conditions, err := expressions.NewConditionEvaluator(logger)
	if err != nil {
		return fmt.Errorf("condition evaluator: %w", err)
	}
	resolver := expressions.NewResolver()

	registry := handlers.NewRegistry()
	if err := handlers.RegisterBuiltins(registry, handlers.BuiltinDeps{
		Conditions: conditions,
		JQ:         expressions.NewJQEngine(),
		Logic:      expressions.NewLogicEngine(),
		Resolver:   resolver,
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	hub := streaming.NewMemoryHub()
	executor, err := engine.New(engine.Deps{
		Registry:   registry,
		Conditions: conditions,
		Resolver:   resolver,
		Executions: st,
		Hub:        hub,
		Metrics:    collector,
		Logger:     logger,
	}, engine.Options{
		MaxIterations: cfg.MaxIterations,
		RunTimeout:    cfg.RunTimeout(),
	})
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	if cfg.Scheduler {
		sched := scheduler.New(st, executor, engine.NewLaunchPool(cfg.PoolSize), collector, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return fmt.Errorf("graph validator: %w", err)
	}

	srv := mcp.NewWeftServer(mcp.WeftServerDeps{
		Runner:    executor,
		Store:     st,
		Validator: validator,
		Logger:    logger,
	})

	logger.Info("weft engine ready",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath))
	return srv.Serve(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics endpoint listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint stopped", slog.String("error", err.Error()))
	}
}
