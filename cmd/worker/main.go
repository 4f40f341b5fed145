package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.StoreDriver == app.DriverMemory {
		logger.Error("worker needs a shared store", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

	services, err := app.BuildServices(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	cron, err := jobs.DefaultCron()
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    services.Maintenance.Handlers(),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
