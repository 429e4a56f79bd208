package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stepfund/valued/internal/jobs"
	"github.com/stepfund/valued/internal/shared"
	"github.com/stepfund/valued/internal/valuation"
)

// CalculationService is the slice of the valuation engine the job consumes.
type CalculationService interface {
	Calculate(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error)
}

// MonthlyValuationJob handles the scheduled monthly calculation. Failures are
// returned to Asynq for retry; the engine's idempotency guard makes a retry
// after partial progress safe.
type MonthlyValuationJob struct {
	service CalculationService
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewMonthlyValuationJob constructs the job handler. metrics may be nil.
func NewMonthlyValuationJob(service CalculationService, logger *slog.Logger, metrics *jobmetrics.Metrics) *MonthlyValuationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthlyValuationJob{
		service: service,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (j *MonthlyValuationJob) WithNow(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Handle processes TaskValuationCalculate tasks.
func (j *MonthlyValuationJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ValuationCalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("valuation task payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	var target shared.Period
	if payload.Period != "" {
		p, err := shared.ParsePeriod(payload.Period)
		if err != nil {
			j.logger.Error("valuation task period", slog.Any("error", err))
			return asynq.SkipRetry
		}
		target = p
	} else {
		target = shared.PeriodOf(j.now()).Previous()
	}

	tracker := j.metrics.Track("valuation_calculate")
	result, err := j.service.Calculate(ctx, valuation.CalculateInput{Period: target})
	if err != nil {
		j.logger.Error("scheduled valuation failed",
			slog.String("period", target.String()),
			slog.Any("error", err))
		return tracker.End(err)
	}
	_ = tracker.End(nil)
	j.metrics.AddSettledEntries(result.SettledEntries)

	j.logger.Info("scheduled valuation finished",
		slog.String("period", target.String()),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("settled_entries", result.SettledEntries))
	return nil
}
