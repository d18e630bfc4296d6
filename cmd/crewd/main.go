package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ametller/crewd/internal/application/crew"
	"github.com/ametller/crewd/internal/application/workers"
	"github.com/ametller/crewd/internal/config"
	eventsredis "github.com/ametller/crewd/pkg/adapters/events/redis"
	indexredis "github.com/ametller/crewd/pkg/adapters/index/redis"
	"github.com/ametller/crewd/pkg/adapters/llm"
	"github.com/ametller/crewd/pkg/adapters/metrics/prometheus"
	storageredis "github.com/ametller/crewd/pkg/adapters/storage/redis"
	"github.com/ametller/crewd/pkg/api/grpc"
	"github.com/ametller/crewd/pkg/api/http"
	"github.com/ametller/crewd/pkg/api/websocket"
	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/experiment"
	memorystore "github.com/ametller/crewd/pkg/memory"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting crewd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus := eventsredis.NewStreamsEventBus(
		redisClient,
		"crewd-workers",
		fmt.Sprintf("crewd-%d", os.Getpid()),
		logger,
	)

	runStorage := storageredis.NewRunStorage(
		redisClient,
		cfg.Redis.ReportTTL,
		logger,
	)

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	invoker := resilience.NewInvoker(domain.ResilienceConfig{
		MaxRetries:       cfg.Resilience.MaxRetries,
		BaseDelay:        cfg.Resilience.BaseDelay,
		MaxDelay:         cfg.Resilience.MaxDelay,
		JitterFraction:   cfg.Resilience.JitterFraction,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
	}, logger, metricsCollector)

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build executor registry", zap.Error(err))
	}

	memoryStore, err := buildMemory(cfg, registry, invoker, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to build memory store", zap.Error(err))
	}

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	var expRouter *experiment.Router
	if cfg.Experiment.Split != "" {
		variants, err := experiment.ParseSplit(cfg.Experiment.Split)
		if err != nil {
			logger.Fatal("invalid experiment split", zap.Error(err))
		}
		expRouter, err = experiment.NewRouter(variants, logger, metricsCollector)
		if err != nil {
			logger.Fatal("failed to create experiment router", zap.Error(err))
		}
	}

	service := crew.NewService(
		registry,
		workerPool,
		invoker,
		runStorage,
		eventBus,
		metricsCollector,
		logger,
		crew.Config{
			Process:            crew.Process(cfg.Orchestration.Process),
			ManagerName:        cfg.Orchestration.ManagerName,
			RateLimitPerMinute: cfg.Orchestration.RateLimitPerMinute,
			CancelGrace:        cfg.Orchestration.CancelGrace,
			Memory:             memoryStore,
		},
		cfg.Timeouts.RunExecutionTimeout,
	)
	if expRouter != nil {
		service.SetExperiment(expRouter)
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:       cfg.HTTPPort,
		Service:    service,
		Experiment: expRouter,
		Pool:       workerPool,
		Logger:     logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:    cfg.GRPCPort,
		Service: service,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("crewd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("run service shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if expRouter != nil {
		expRouter.Close()
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("crewd shut down complete")
}

// buildRegistry registers the LLM-backed executors. A general-purpose
// assistant is always available; a delegating manager is added when the
// hierarchical process is configured.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*crew.Registry, error) {
	registry := crew.NewRegistry()

	llmCfg := &llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.DefaultModel,
		Logger:   logger,
	}

	assistant, err := llm.NewExecutor(llmCfg, domain.ExecutorProfile{
		Name:             "assistant",
		Role:             "a capable generalist assistant",
		Goal:             "complete the task exactly as described",
		MaxExecutionTime: cfg.LLM.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(assistant); err != nil {
		return nil, err
	}

	if cfg.Orchestration.ManagerName != "" {
		manager, err := llm.NewExecutor(llmCfg, domain.ExecutorProfile{
			Name:             cfg.Orchestration.ManagerName,
			Role:             "a team lead who assigns work to the best suited team member",
			Goal:             "pick the right executor for every task",
			AllowDelegation:  true,
			MaxExecutionTime: cfg.LLM.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(manager); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// buildMemory constructs the configured run memory variant. The summary
// variant compacts through the assistant executor; retrieval is backed by
// the shared Redis index.
func buildMemory(cfg *config.Config, registry *crew.Registry, invoker *resilience.Invoker,
	redisClient *goredis.Client, logger *zap.Logger) (ports.MemoryStore, error) {

	switch cfg.Memory.Variant {
	case "none":
		return nil, nil
	case "buffer":
		return memorystore.NewBufferStore(), nil
	case "window":
		return memorystore.NewWindowStore(cfg.Memory.WindowSize), nil
	case "summary":
		summarizer, ok := registry.Get("assistant")
		if !ok {
			return nil, fmt.Errorf("summary memory requires the assistant executor")
		}
		return memorystore.NewSummaryStore(summarizer, invoker, domain.ResilienceConfig{},
			cfg.Memory.SummaryThreshold, logger), nil
	case "retrieval":
		index := indexredis.NewSearchIndex(redisClient, logger)
		return memorystore.NewRetrievalStore(index, cfg.Memory.RetrievalLimit), nil
	default:
		return nil, fmt.Errorf("unknown memory variant: %s", cfg.Memory.Variant)
	}
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
