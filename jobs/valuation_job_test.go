package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stepfund/valued/internal/valuation"
)

type stubCalculator struct {
	calls  []valuation.CalculateInput
	result valuation.CalculationResult
	err    error
}

func (s *stubCalculator) Calculate(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
	s.calls = append(s.calls, in)
	return s.result, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValuationTaskRoundTrip(t *testing.T) {
	task, err := NewValuationCalculateTask(ValuationCalculatePayload{Period: "2026-02"})
	require.NoError(t, err)
	require.Equal(t, TaskValuationCalculate, task.Type())
	require.JSONEq(t, `{"period":"2026-02"}`, string(task.Payload()))
}

func TestHandleTargetsPreviousMonthByDefault(t *testing.T) {
	calc := &stubCalculator{result: valuation.CalculationResult{Outcome: valuation.OutcomeCalculated, SettledEntries: 2}}
	job := NewMonthlyValuationJob(calc, discardLogger(), nil)
	job.WithNow(func() time.Time { return time.Date(2026, time.March, 7, 8, 0, 0, 0, time.UTC) })

	task, err := NewValuationCalculateTask(ValuationCalculatePayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, calc.calls, 1)
	require.Equal(t, "2026-02", calc.calls[0].Period.String())
	require.False(t, calc.calls[0].Manual)
	require.Empty(t, calc.calls[0].OperatorID)
}

func TestHandleHonorsExplicitPeriod(t *testing.T) {
	calc := &stubCalculator{result: valuation.CalculationResult{Outcome: valuation.OutcomeAlreadyFinalized}}
	job := NewMonthlyValuationJob(calc, discardLogger(), nil)

	task, err := NewValuationCalculateTask(ValuationCalculatePayload{Period: "2025-11"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, calc.calls, 1)
	require.Equal(t, "2025-11", calc.calls[0].Period.String())
}

func TestHandleReturnsErrorForRetry(t *testing.T) {
	calc := &stubCalculator{err: errors.New("store unavailable")}
	job := NewMonthlyValuationJob(calc, discardLogger(), nil)

	task, err := NewValuationCalculateTask(ValuationCalculatePayload{Period: "2026-02"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSkipsRetryOnBadPayload(t *testing.T) {
	calc := &stubCalculator{}
	job := NewMonthlyValuationJob(calc, discardLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskValuationCalculate, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, calc.calls)

	task, err := NewValuationCalculateTask(ValuationCalculatePayload{Period: "2026-13"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, calc.calls)
}
