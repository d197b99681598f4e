package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-agent/internal/api/http"
	"github.com/spec-kit/ticket-agent/internal/api/http/handlers"
	"github.com/spec-kit/ticket-agent/internal/auth"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	"github.com/spec-kit/ticket-agent/internal/observability"
	"github.com/spec-kit/ticket-agent/internal/persistence"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/service"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		runRepo     repository.RunRepository
		historyRepo repository.StageHistoryRepository
	)
	if pg.Enabled() {
		runRepo = repository.NewRunRepository(pg.Pool)
		historyRepo = repository.NewStageHistoryRepository(pg.Pool)
	} else {
		runRepo = repository.NewMemoryRunRepository()
		historyRepo = repository.NewMemoryStageHistoryRepository()
	}

	var checkpoints pipeline.CheckpointStore
	if cfg.Pipeline.SuspendAtWait {
		if redis != nil {
			checkpoints = persistence.NewRedisCheckpointStore(redis.Client, cfg.Pipeline.CheckpointTTL())
		} else {
			checkpoints = pipeline.NewMemoryCheckpointStore()
		}
	}

	gw, err := gateway.NewFromConfig(cfg.Gateway, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build capability gateway", zap.Error(err))
	}
	graph, err := pipeline.DefaultGraph(stages.New(stages.Dependencies{
		Gateway:   gw,
		Logger:    logger,
		Decisions: metrics,
	}))
	if err != nil {
		logger.Fatal("failed to build pipeline graph", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notificationService.RegisterHandlers()

	pipelineService, err := service.NewPipelineService(service.PipelineDependencies{
		Graph:       graph,
		Checkpoints: checkpoints,
		RunRepo:     runRepo,
		HistoryRepo: historyRepo,
		Dispatcher:  dispatcher,
		Recorder:    metrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to build pipeline service", zap.Error(err))
	}

	authService, err := service.NewAuthService(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to build auth service", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager())

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Runs:           handlers.NewRunsHandler(pipelineService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
