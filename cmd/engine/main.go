package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genboard/engine/internal/cache"
	"genboard/engine/internal/config"
	"genboard/engine/internal/database"
	"genboard/engine/internal/engine"
	"genboard/engine/internal/events"
	"genboard/engine/internal/handlers"
	"genboard/engine/internal/jobs"
	"genboard/engine/internal/log"
	"genboard/engine/internal/repository"
	"genboard/engine/internal/resolver"
	"genboard/engine/internal/server"
	"genboard/engine/internal/storage"
	"genboard/engine/internal/visibility"
	"genboard/engine/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBuckets(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure buckets failed")
	}

	assets := repository.NewAssetRepository(dbPool)
	urlCache := cache.NewRedisURLCache(redisClient, logger)

	pool := resolver.New(objectStore, urlCache, assets, resolver.Config{
		PoolSize:       cfg.Resolver.PoolSize,
		RequestTimeout: cfg.Resolver.RequestTimeout,
		ImageURLTTL:    cfg.Resolver.ImageURLTTL,
		VideoURLTTL:    cfg.Resolver.VideoURLTTL,
	}, log.Component(logger, "resolver"))

	eng := engine.New(engine.Options{
		Assets:    assets,
		Resolver:  pool,
		Cache:     urlCache,
		Remover:   objectStore,
		Persister: workspace.NewRedisPersister(redisClient),
		Visibility: visibility.Config{
			Debounce:  cfg.Visibility.Debounce,
			BatchSize: cfg.Visibility.BatchSize,
			QueueSize: cfg.Visibility.QueueSize,
		},
		Logger: log.Component(logger, "engine"),
	})
	eng.Start()

	handlerSet := handlers.NewHandlerSet(logger, cfg, eng, dbPool, redisClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(eng.Coordinator(), cfg.Coordinator.BufferTTL, nil, log.Component(logger, "scheduler"))
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumer := events.NewConsumer(redisClient, cfg.Events, log.Component(logger, "events"), eng)
	go func() {
		if err := consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
			logger.Error().Err(err).Msg("event consumer stopped")
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, eng, stopConsumer, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, eng *engine.Engine, stopConsumer context.CancelFunc, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	stopConsumer()
	scheduler.Stop()
	eng.Stop()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("engine exited cleanly")
}
