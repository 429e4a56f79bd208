package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stepfund/valued/internal/app"
	"github.com/stepfund/valued/internal/ledger"
	"github.com/stepfund/valued/internal/observability"
	"github.com/stepfund/valued/internal/operators"
	"github.com/stepfund/valued/internal/revenue"
	"github.com/stepfund/valued/internal/shared"
	"github.com/stepfund/valued/internal/valuation"
	valuationhttp "github.com/stepfund/valued/internal/valuation/http"
	"github.com/stepfund/valued/jobs"
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	operatorRepo := operators.NewRepository(dbpool)
	operatorService := operators.NewService(operatorRepo)

	valuationRepo := valuation.NewRepository(dbpool)
	ledgerRepo := ledger.NewRepository(dbpool)
	revenueRepo := revenue.NewRepository(dbpool)
	summaryCache := valuation.NewCache(redisClient, cfg.SummaryCacheTTL)

	valuationService := valuation.NewService(
		valuationRepo,
		ledgerRepo,
		revenueRepo,
		operatorService,
		auditLogger,
		summaryCache,
		logger,
		valuation.Config{
			PoolRatio:       cfg.PoolRatio,
			ExchangeRate:    cfg.ExchangeRate,
			SettleBatchSize: cfg.SettleBatchSize,
			SummaryPeriods:  cfg.SummaryPeriods,
		},
	)
	valuationHandler := valuationhttp.NewHandler(logger, valuationService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		OperatorRegistry: operatorService,
		ValuationHandler: valuationHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
