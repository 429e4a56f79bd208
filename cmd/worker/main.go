package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stepfund/valued/internal/app"
	jobmetrics "github.com/stepfund/valued/internal/jobs"
	"github.com/stepfund/valued/internal/ledger"
	"github.com/stepfund/valued/internal/operators"
	"github.com/stepfund/valued/internal/revenue"
	"github.com/stepfund/valued/internal/shared"
	"github.com/stepfund/valued/internal/valuation"
	"github.com/stepfund/valued/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)

	operatorRepo := operators.NewRepository(pool)
	operatorService := operators.NewService(operatorRepo)

	valuationRepo := valuation.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	revenueRepo := revenue.NewRepository(pool)
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

	metrics := jobmetrics.NewMetrics(nil)
	valuationJob := jobs.NewMonthlyValuationJob(valuationService, logger, metrics)

	calculateTask, err := jobs.NewValuationCalculateTask(jobs.ValuationCalculatePayload{})
	if err != nil {
		logger.Error("build calculate task", slog.Any("error", err))
		os.Exit(1)
	}

	location, err := cfg.CronLocation()
	if err != nil {
		logger.Error("load cron timezone", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskValuationCalculate, Handler: valuationJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ValuationCron, Task: calculateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
