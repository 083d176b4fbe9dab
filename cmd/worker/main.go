package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashclose/internal/app"
	"github.com/odyssey-erp/cashclose/internal/observability"
	"github.com/odyssey-erp/cashclose/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ledger, releaseLedger, err := app.NewLedger(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("init ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := releaseLedger(); err != nil {
			logger.Warn("ledger close", slog.Any("error", err))
		}
	}()

	compactJob := jobs.NewCompactJob(ledger, logger, metrics.Jobs())

	var cron []jobs.CronRegistration
	if cfg.CompactSchedule != "" {
		for _, company := range cfg.CompactCompanies {
			task, err := jobs.NewCompactTask(company)
			if err != nil {
				logger.Error("build compact task", slog.String("company", company), slog.Any("error", err))
				os.Exit(1)
			}
			cron = append(cron, jobs.CronRegistration{
				Spec:    cfg.CompactSchedule,
				Task:    task,
				Options: []asynq.Option{asynq.MaxRetry(3)},
			})
		}
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCashCloseCompact, Handler: compactJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
