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
	"time"

	"golang.org/x/sync/errgroup"

	"advsandbox/internal/api"
	"advsandbox/internal/attack"
	"advsandbox/internal/config"
	"advsandbox/internal/health"
	"advsandbox/internal/model"
	"advsandbox/internal/observability"
	"advsandbox/internal/store"
	"advsandbox/internal/webhook"
)

func run(ctx context.Context) error {
	// Load configuration
	svcCfg := config.LoadServiceConfig()
	webhookCfg := webhook.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open the record store
	recordStore, err := openStore(svcCfg)
	if err != nil {
		return err
	}
	defer recordStore.Close()
	slog.Info("Record store ready", "driver", svcCfg.DatabaseDriver)

	// Model handle cache and loader
	cache := model.NewInstanceCache(svcCfg.ModelCacheCapacity, metrics)
	var loader model.Loader
	if svcCfg.ModelServiceURL != "" {
		loader = model.NewRemoteLoader(svcCfg.ModelServiceURL, svcCfg.InferenceTimeout)
		slog.Info("Using remote inference", "url", svcCfg.ModelServiceURL)
	} else {
		loader = model.BuiltinLoader()
		slog.Info("Using built-in models")
	}

	// Create callback dispatcher
	dispatcher := webhook.NewDispatcher(webhookCfg, svcCfg.ResultBaseURL, metrics)

	// Create health checker
	healthChecker := health.NewChecker(recordStore)

	// Create attack service
	attackService := attack.NewService(recordStore, cache, loader, dispatcher, metrics, svcCfg.InferenceTimeout)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		AttackService: attackService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start both servers
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- g.Wait()
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			shutdown(5 * time.Second)
			return err
		}
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Let running attacks finish
	slog.Info("Draining attack workers")
	svcCtx, svcCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer svcCancel()
	if err := attackService.Close(svcCtx); err != nil {
		slog.Warn("Attack service shutdown error", "error", err)
	}

	// Phase 4: Drain pending callbacks
	slog.Info("Draining webhook dispatcher")
	whCtx, whCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer whCancel()
	if err := dispatcher.Close(whCtx); err != nil {
		slog.Warn("Webhook dispatcher shutdown error", "error", err)
	}

	stats := dispatcher.Stats()
	slog.Info("Webhook dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}

// openStore opens the configured record store. The "memory" driver is
// for development and tests only.
func openStore(cfg *config.ServiceConfig) (attack.RecordStore, error) {
	if cfg.DatabaseDriver == "memory" {
		return store.NewMemory(), nil
	}
	return store.OpenSQL(cfg.DatabaseDriver, cfg.DatabaseURL)
}
