package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luminahealth/orchestrator/internal/activities"
	"github.com/luminahealth/orchestrator/internal/budget"
	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/embeddings"
	"github.com/luminahealth/orchestrator/internal/evidence"
	"github.com/luminahealth/orchestrator/internal/health"
	"github.com/luminahealth/orchestrator/internal/httpapi"
	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/providers"
	"github.com/luminahealth/orchestrator/internal/recall"
	"github.com/luminahealth/orchestrator/internal/session"
	"github.com/luminahealth/orchestrator/internal/streaming"
	"github.com/luminahealth/orchestrator/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := providers.LoadCatalogFromEnv(); err != nil {
		return fmt.Errorf("load provider catalog: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	recallRepo := recall.NewRepository(db, logger)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recallRepo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	embedCache, err := embeddings.NewRedisCache(rdb)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	embeddings.Initialize(embeddings.Config{
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.EmbedModel,
	}, embedCache)

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Timeout, logger)
	registry := providers.NewRegistry(cfg.Providers, logger)
	ranker := evidence.NewRanker(embeddings.Get(), cfg.LLM.EmbedModel)
	sessions := session.NewManager(rdb, cfg.Session, logger)
	tracker := budget.NewTracker(logger)
	stream := streaming.Get()

	acts := activities.NewActivities(llmClient, registry, ranker, sessions, recallRepo, tracker, stream, logger)

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Service.TemporalHost,
		Namespace: "default",
	})
	if err != nil {
		return fmt.Errorf("connect temporal: %w", err)
	}
	defer tc.Close()

	w := worker.New(tc, cfg.Service.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchRouter)
	w.RegisterActivity(acts)

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// API server: task submission plus the event stream.
	apiMux := http.NewServeMux()
	httpapi.NewTaskHandler(tc, cfg.Service.TaskQueue, logger).RegisterRoutes(apiMux)
	httpapi.NewStreamingHandler(stream, logger).RegisterRoutes(apiMux)

	probes := health.NewManager(logger)
	probes.Register(&health.RedisChecker{Client: rdb})
	probes.Register(&health.PostgresChecker{DB: db})
	probes.Register(&health.GatewayChecker{BaseURL: cfg.LLM.BaseURL})
	probes.RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler: apiMux,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.HTTPPort))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Worker starting",
		zap.String("task_queue", cfg.Service.TaskQueue),
		zap.Strings("providers", registry.Names()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Run(nil) }()

	select {
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-workerErr:
		if err != nil {
			logger.Error("Worker stopped", zap.Error(err))
		}
	}

	w.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func buildLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if err := level.Set(s); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
