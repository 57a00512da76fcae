package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/taskpay/taskpay/internal/config"
	"github.com/taskpay/taskpay/internal/infra"
	"github.com/taskpay/taskpay/internal/logging"
	"github.com/taskpay/taskpay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel)

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	srv, err := server.New(cfg, db, cache, nil, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	// Background sweep over retryable settlement failures. The admin
	// endpoint triggers the same pass on demand.
	scheduler := cron.New()
	if cfg.RetrySchedule != "" {
		recoverySvc := srv.Services().Recovery
		if _, err := scheduler.AddFunc(cfg.RetrySchedule, func() {
			result, err := recoverySvc.RetryPayouts(context.Background(), cfg.RetryBatchSize)
			if err != nil {
				logger.Error("scheduled payout retry failed", "error", err)
				return
			}
			if result.Processed > 0 {
				logger.Info("scheduled payout retry finished",
					"processed", result.Processed, "succeeded", result.Succeeded, "failed", result.Failed)
			}
		}); err != nil {
			logger.Error("invalid RETRY_SCHEDULE", "schedule", cfg.RetrySchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	<-scheduler.Stop().Done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
