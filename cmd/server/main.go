package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codepair/internal/api"
	"codepair/internal/config"
	"codepair/internal/db"
	"codepair/internal/logging"
	"codepair/internal/metrics"
	"codepair/internal/repository"
	"codepair/internal/services"
	"codepair/internal/services/collaboration"
	"codepair/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const serviceName = "codepair"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("server exited: %v", err)
		os.Exit(1)
	}
}

// run wires the hub and serves until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting collaborative session hub", zap.String("addr", cfg.Addr()))

	// Tracing goes first so everything after it is traced.
	jaegerShutdown, err := telemetry.InitJaeger(serviceName, cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Warn("failed to initialize jaeger, continuing without tracing", zap.Error(err))
		jaegerShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logger.Warn("failed to shutdown jaeger", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessionManager := collaboration.NewSessionManager(logger, metrics.NewHub(reg), cfg.SendBuffer)
	if cfg.EvictionIdleTTL > 0 {
		evictor := collaboration.NewEvictor(sessionManager, cfg.EvictionIdleTTL, cfg.EvictionInterval)
		if err := evictor.Start(); err != nil {
			return err
		}
		sessionManager.SetEvictor(evictor)
	}

	allocator := services.NewAllocator(store, cfg.PublicSessionURL, logger)
	wsHandler := collaboration.NewWebSocketHandler(sessionManager, cfg.AllowedOrigins, logger)
	handler := api.NewHandler(allocator, sessionManager, wsHandler, logger)

	router := api.SetupRoutes(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		HTTPMetrics:    metrics.NewHTTP(reg),
		Gatherer:       reg,
		Logger:         logger,
	})

	// No WriteTimeout: hijacked websocket connections manage their own
	// deadlines.
	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		sessionManager.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	// Hijacked websocket connections are not covered by server.Shutdown.
	sessionManager.Shutdown()

	logger.Info("server shutdown complete")
	return nil
}

// openStore returns the configured store for issued session ids and a
// function releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case config.StorePostgres:
		database, err := db.NewGorm(cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("session ids stored in postgres", zap.String("host", cfg.DBHost))
		return repository.NewSessionRepository(database.DB), func() { _ = database.Close() }, nil

	case config.StoreRedis:
		rdb, err := db.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("session ids stored in redis",
			zap.String("addr", cfg.RedisAddr),
			zap.Duration("ttl", cfg.SessionIDTTL),
		)
		return repository.NewRedisSessionRepository(rdb, cfg.SessionIDTTL), func() { _ = rdb.Close() }, nil

	default:
		logger.Info("session ids stored in memory")
		return repository.NewMemorySessionRepository(), func() {}, nil
	}
}
