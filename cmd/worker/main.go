package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearledger/clearledger/internal/app"
	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/compliance"
	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
	"github.com/clearledger/clearledger/internal/platform/db"
	"github.com/clearledger/clearledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	auditRepo := audit.NewPGRepository(pool)
	persistJob := jobs.NewAuditPersistJob(auditRepo, logger, metrics)

	complianceRepo := compliance.NewPGRepository(pool)
	engine := compliance.NewEngine(logger, complianceRepo)
	if open, err := complianceRepo.OpenViolations(ctx); err != nil {
		logger.Warn("load open violations", slog.Any("error", err))
	} else {
		engine.RestoreViolations(open)
	}
	sweepJob := jobs.NewRetentionSweepJob(auditRepo, engine, cfg.AuditTTL, logger, metrics)
	reminderJob := jobs.NewRemediationReminderJob(engine, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditPersist, Handler: persistJob.Handle},
			{Type: jobs.TaskRetentionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskRemediationReminder, Handler: reminderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: jobs.NewRetentionSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 8 * * *", Task: jobs.NewRemediationReminderTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
