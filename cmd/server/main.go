// Package main is the entrypoint for the Integration Hub API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/integrationhub/internal/api"
	"github.com/kiranshivaraju/integrationhub/internal/api/handler"
	mw "github.com/kiranshivaraju/integrationhub/internal/api/middleware"
	"github.com/kiranshivaraju/integrationhub/internal/cache"
	"github.com/kiranshivaraju/integrationhub/internal/config"
	"github.com/kiranshivaraju/integrationhub/internal/connector"
	"github.com/kiranshivaraju/integrationhub/internal/engine"
	"github.com/kiranshivaraju/integrationhub/internal/events"
	"github.com/kiranshivaraju/integrationhub/internal/metrics"
	"github.com/kiranshivaraju/integrationhub/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store", cfg.Database.Driver,
		"cache_enabled", cfg.Redis.URL != "",
		"events_enabled", cfg.AMQP.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store and apply migrations
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Optional Redis cache
	c, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer c.Close()

	// 4. Optional AMQP publisher
	pub, err := openPublisher(cfg.AMQP, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	// 5. Engine with the default connectors
	m := metrics.New(prometheus.DefaultRegisterer)
	registry := connector.DefaultRegistry(cfg.Connectors)
	eng := engine.New(st, registry,
		engine.WithCache(c),
		engine.WithPublisher(pub),
		engine.WithMetrics(m),
		engine.WithLogger(logger),
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		engine.WithStatusTTL(cfg.Engine.StatusCacheTTL),
	)
	slog.Info("connectors registered", "connectors", registry.List())

	// 6. Resume work left behind by a previous process
	if _, err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Metrics: m,

		HealthHandler:     handler.NewHealthHandler(st, c),
		MetricsHandler:    metrics.Handler(prometheus.DefaultGatherer),
		SubmitJobHandler:  handler.NewSubmitJobHandler(eng),
		ListJobsHandler:   handler.NewListJobsHandler(eng),
		GetJobHandler:     handler.NewGetJobHandler(eng),
		JobStatusHandler:  handler.NewJobStatusHandler(eng),
		RetryJobHandler:   handler.NewRetryJobHandler(eng),
		ConnectorsHandler: handler.NewListConnectorsHandler(eng),
	}
	if cfg.Redis.URL != "" {
		deps.RateLimit = mw.NewRateLimit(c, cfg.Server.RateLimitPerMinute)
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop taking requests, then let in-flight attempts finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		// Unfinished attempts are failed as interrupted on the next start.
		slog.Warn("engine did not drain before timeout", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore returns the configured job store and a func that releases it.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.Driver == config.DriverMemory {
		slog.Warn("using in-memory store, jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, status cache and rate limiting disabled")
		return cache.NopCache{}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, nil
}

func openPublisher(cfg config.AMQPConfig, logger *slog.Logger) (events.Publisher, error) {
	if cfg.URL == "" {
		slog.Info("AMQP_URL not set, execution events disabled")
		return events.NopPublisher{}, nil
	}

	pub, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	slog.Info("amqp connected", "exchange", cfg.Exchange)
	return pub, nil
}
