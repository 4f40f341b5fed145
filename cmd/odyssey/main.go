package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, logger, os.Args[2:]))
	}

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()
	metrics.MarkStore(cfg.StoreDriver)

	jobDeps := jobs.HandlerDeps{Runner: services.Maintenance, Logger: logger}
	if cfg.JobsQueue {
		redisOpts := cfg.Redis().AsynqOpt()
		client := jobs.NewClient(redisOpts)
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobDeps.Queue = client
		jobDeps.Inspector = inspector
	}

	router := app.NewRouter(app.NewHandlers(logger, cfg, services, jobs.NewHandler(jobDeps), metrics))

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	opts, err := cli.ParseJobsArgs(args)
	if err != nil {
		logger.Error("jobs", slog.Any("error", err))
		return 2
	}
	if opts.Action == "run" {
		services, err := app.BuildServices(ctx, cfg, logger, nil)
		if err != nil {
			logger.Error("build services", slog.Any("error", err))
			return 1
		}
		defer func() { _ = services.Close() }()
		return cli.RunInline(ctx, services.Maintenance, opts)
	}
	c := cli.NewJobsCLI(cfg.Redis().AsynqOpt())
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	return c.Command(ctx, opts)
}
