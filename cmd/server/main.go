// Package main runs the retrieval server: the write serializer, the scheduled
// cache sweep, and the health/metrics endpoint.
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

	"uplink/internal/app"
	"uplink/internal/config"
	"uplink/internal/infra/worker"
	"uplink/internal/observability/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	sweepMetrics := worker.NewSweepMetrics()
	cfg, err := config.LoadRetrievalConfig(logger, sweepMetrics.ConfigMetrics)
	if err != nil {
		return err
	}

	// LOG_LEVEL may have come from the config file
	logger = logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := a.Start(); err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("start serializer: %w", err)
	}

	sweeper, err := worker.NewSweeper(a.Service, cfg.Cache.SweepSchedule, sweepMetrics, logger)
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("cache sweep: %w", err)
	}
	sweeper.Start()

	healthAddr := fmt.Sprintf(":%d", cfg.Server.HealthPort)
	health := worker.NewHealthServer(healthAddr, logger, func(ctx context.Context) (any, error) {
		return a.Service.Stats(ctx)
	})
	healthDone := make(chan struct{})
	go func() {
		defer close(healthDone)
		if err := health.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
			stop()
		}
	}()
	health.SetReady(true)

	logger.Info("server started",
		slog.String("store", cfg.Store.Driver),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("sweep_schedule", sweeper.Schedule()),
		slog.String("health_addr", healthAddr))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Write.ShutdownTimeout+10*time.Second)
	defer cancel()

	var errs []error
	if err := sweeper.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	<-healthDone

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
