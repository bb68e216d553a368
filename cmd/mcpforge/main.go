package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/i2y/mcpforge/configs"
	"github.com/i2y/mcpforge/internal/adapter/inbound/adminhttp"
	"github.com/i2y/mcpforge/internal/adapter/outbound/codegen"
	"github.com/i2y/mcpforge/internal/adapter/outbound/events"
	"github.com/i2y/mcpforge/internal/adapter/outbound/filewriter"
	"github.com/i2y/mcpforge/internal/adapter/outbound/github"
	"github.com/i2y/mcpforge/internal/adapter/outbound/gormrepo"
	"github.com/i2y/mcpforge/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/invoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/llm"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mcpclient"
	"github.com/i2y/mcpforge/internal/adapter/outbound/memrepo"
	"github.com/i2y/mcpforge/internal/adapter/outbound/mockinvoker"
	"github.com/i2y/mcpforge/internal/adapter/outbound/openapi"
	"github.com/i2y/mcpforge/internal/adapter/outbound/policy"
	"github.com/i2y/mcpforge/internal/adapter/outbound/redislock"
	"github.com/i2y/mcpforge/internal/adapter/outbound/tokenizer"
	"github.com/i2y/mcpforge/internal/usecase"
)

const (
	serviceName    = "mcpforge"
	serviceVersion = "0.1.0"
)

// store bundles the three repositories so one backend serves them all.
type store interface {
	usecase.ApiRepository
	usecase.McpRepository
	usecase.OverrideRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mcpforge exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.Config, logger *slog.Logger) error {
	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	logger.Info("Initializing dependencies...")

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	// --- Metrics and events ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := events.NewMetrics(reg)
	bus := events.NewBus(logger, events.NewLogSink(logger), metrics)

	// --- Persistence ---
	openapiFetcher := openapi.NewSchemaFetcher(httpClient, logger)
	repo, closeStore, err := openStore(cfg, openapiFetcher, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	// --- Fetching and extraction ---
	fetcher := github.NewFetcher(github.NewGHClient(nil), openapiFetcher, openapiFetcher, logger)
	var extractorOpts []openapi.ExtractorOption
	if cfg.ParamInfixNames {
		extractorOpts = append(extractorOpts, openapi.WithParamInfixNames())
	}
	extractor := openapi.NewExtractor(logger, extractorOpts...)

	// --- Token accounting and optimization policies ---
	counter := tokenizer.New(cfg.TokenizerEncoding, logger)
	var sizePolicy usecase.SizePolicy = policy.NewHeuristicSize(counter, logger)
	var selectionPolicy usecase.SelectionPolicy = policy.GreedySelection{}
	if cfg.OptimizerURL != "" {
		model := llm.New(httpClient, cfg.OptimizerURL, cfg.OptimizerAPIKey, cfg.OptimizerModel, logger)
		sizePolicy = policy.NewModelSize(model, sizePolicy, logger)
		selectionPolicy = policy.NewModelSelection(model, selectionPolicy, logger)
		logger.Info("Model-backed optimization enabled.", slog.String("model", cfg.OptimizerModel))
	}

	// --- Runtime ---
	router := invoker.NewRouter(httpinvoker.New(httpClient, logger), mockinvoker.New(logger), logger)
	servers := mcpclient.NewRegistry(router, serviceName, serviceVersion, logger)
	defer servers.Close(context.Background())

	// --- Build ---
	var genOpts []codegen.Option
	if cfg.RuntimeModule != "" {
		genOpts = append(genOpts, codegen.WithRuntime(cfg.RuntimeModule, cfg.RuntimeVersion))
	}
	generator, err := codegen.New(logger, genOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize code generator: %w", err)
	}

	// === Use Cases ===
	importUC := usecase.NewImportApiUseCase(fetcher, repo, logger)
	generateUC := usecase.NewGenerateToolsUseCase(repo, extractor, logger)
	deps := adminhttp.Deps{
		Import:     importUC,
		Tools:      usecase.NewManageToolsUseCase(repo, locker, generateUC, bus, logger),
		Size:       usecase.NewOptimizeSizeUseCase(repo, locker, sizePolicy, counter, bus, metrics, logger),
		Selection:  usecase.NewOptimizeSelectionUseCase(repo, selectionPolicy, counter, logger),
		Build:      usecase.NewBuildServerUseCase(repo, generator, filewriter.New(logger), logger),
		Lifecycle:  usecase.NewLifecycleUseCase(repo, servers, logger),
		Bridge:     usecase.NewRuntimeBridgeUseCase(servers, repo, repo, counter, sizePolicy, metrics, logger),
		Counter:    counter,
		Events:     bus,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		OutputRoot: cfg.BuildOutputDir,
	}

	// === Startup imports and connections ===
	if sources := cfg.SchemaSources(); len(sources) > 0 {
		logger.Info("Importing configured API sources...", slog.Int("count", len(sources)))
		imported, errs := importUC.ExecuteAll(ctx, sources)
		for _, err := range errs {
			logger.Error("API import failed. Startup continuing.", slog.Any("error", err))
		}
		logger.Info("API import completed.", slog.Int("imported", len(imported)), slog.Int("failed", len(errs)))
	}
	for _, ext := range cfg.ExternalServers {
		if _, err := deps.Lifecycle.ConnectExternal(ctx, ext); err != nil {
			logger.Error("External MCP server connection failed.", slog.String("server_id", ext.ID), slog.Any("error", err))
		}
	}

	// === Admin HTTP Server ===
	adminServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      adminhttp.NewHandlers(deps, logger).Routes(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Admin HTTP server starting.", slog.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("admin HTTP server failed: %w", err)
		}
	}

	// === Server Shutdown ===
	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin HTTP server graceful shutdown failed.", slog.Any("error", err))
	}
	logger.Info("Servers shut down gracefully.")
	return nil
}

func openStore(cfg *configs.Config, parser gormrepo.DocumentParser, logger *slog.Logger) (store, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Info("No database configured, using in-memory store.")
		return memrepo.NewInMemoryRepository(logger), func() {}, nil
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	repo, err := gormrepo.New(db, parser, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using SQL store.", slog.String("dsn", cfg.DatabaseDSN))
	return repo, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}

func openLocker(ctx context.Context, cfg *configs.Config, logger *slog.Logger) (usecase.MutationLocker, func(), error) {
	if cfg.RedisAddr == "" {
		return memrepo.NewKeyedLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using redis mutation locks.", slog.String("address", cfg.RedisAddr))
	return redislock.New(rdb, cfg.RedisLockTTL, logger), func() { _ = rdb.Close() }, nil
}
