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
	"golang.org/x/sync/errgroup"

	"github.com/clearledger/clearledger/internal/app"
	"github.com/clearledger/clearledger/internal/audit"
	"github.com/clearledger/clearledger/internal/compliance"
	"github.com/clearledger/clearledger/internal/observability"
	"github.com/clearledger/clearledger/internal/platform/cache"
	"github.com/clearledger/clearledger/internal/platform/db"
	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/tenant"
	"github.com/clearledger/clearledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	recentCache := audit.NewRecentCache(redisClient, cfg.AuditTTL, 0)
	trail := audit.NewTrail(logger, metrics, jobs.NewDispatcher(jobsClient), recentCache)

	rbacService := rbac.NewService(logger, rbac.Options{TransitiveInheritance: cfg.RoleInheritanceTransitive})
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, trail, rbacMiddleware)

	tenantManager := tenant.NewManager(logger)
	tenantHandler := tenant.NewHandler(logger, tenantManager, trail, rbacMiddleware)

	pseudonymizer, err := compliance.NewPseudonymizer(cfg.PseudonymAlgorithm)
	if err != nil {
		logger.Error("init pseudonymizer", slog.Any("error", err))
		os.Exit(1)
	}
	complianceRepo := compliance.NewPGRepository(dbpool)
	engine := compliance.NewEngine(logger, complianceRepo)
	engine.SetPseudonymizer(pseudonymizer)
	engine.SetMetrics(metrics)
	complianceHandler := compliance.NewHandler(logger, engine, trail, rbacMiddleware)

	auditHandler := audit.NewHandler(logger, trail, recentCache)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACHandler:       rbacHandler,
		TenantHandler:     tenantHandler,
		ComplianceHandler: complianceHandler,
		AuditHandler:      auditHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
		Middlewares: app.MiddlewareStack(app.MiddlewareConfig{
			Logger:  logger,
			Config:  cfg,
			Metrics: metrics,
		}),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
