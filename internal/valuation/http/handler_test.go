package valuationhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stepfund/valued/internal/shared"
	"github.com/stepfund/valued/internal/valuation"
)

type stubValuationService struct {
	calculateFn func(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error)
	approveFn   func(ctx context.Context, in valuation.ApproveInput) (valuation.ApprovalResult, error)
	summaryFn   func(ctx context.Context, operatorID string) ([]valuation.PeriodSummary, error)
}

func (s *stubValuationService) Calculate(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
	return s.calculateFn(ctx, in)
}

func (s *stubValuationService) Approve(ctx context.Context, in valuation.ApproveInput) (valuation.ApprovalResult, error) {
	return s.approveFn(ctx, in)
}

func (s *stubValuationService) Summary(ctx context.Context, operatorID string) ([]valuation.PeriodSummary, error) {
	return s.summaryFn(ctx, operatorID)
}

func newTestRouter(svc *stubValuationService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, svc)
	r := chi.NewRouter()
	r.Route("/valuations", handler.MountRoutes)
	return r
}

func asOperator(req *http.Request, operatorID string) *http.Request {
	return req.WithContext(shared.ContextWithOperator(req.Context(), operatorID))
}

func TestCalculateEndpoint(t *testing.T) {
	var captured valuation.CalculateInput
	svc := &stubValuationService{
		calculateFn: func(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
			captured = in
			return valuation.CalculationResult{
				Outcome:        valuation.OutcomeCalculated,
				SettledEntries: 3,
				Message:        "period 2026-02: 1 unit = ₺0.006000",
				Valuation: valuation.PeriodValuation{
					Period:       "2026-02",
					UnitValue:    0.006,
					Status:       valuation.StatusCalculated,
					CalculatedAt: time.Date(2026, time.March, 7, 8, 0, 0, 0, time.UTC),
					Manual:       true,
				},
			}, nil
		},
	}
	router := newTestRouter(svc)

	req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/2026-02/calculate", nil), "op-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, captured.Manual)
	require.Equal(t, "op-1", captured.OperatorID)
	require.Equal(t, "2026-02", captured.Period.String())

	var resp calculateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "calculated", resp.Outcome)
	require.Equal(t, 3, resp.SettledEntries)
	require.InDelta(t, 0.006, resp.Valuation.UnitValue, 1e-12)
}

func TestCalculateEndpointAlreadyFinalized(t *testing.T) {
	svc := &stubValuationService{
		calculateFn: func(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
			return valuation.CalculationResult{
				Outcome: valuation.OutcomeAlreadyFinalized,
				Message: "period 2026-02 already finalized (status approved)",
				Valuation: valuation.PeriodValuation{
					Period: "2026-02",
					Status: valuation.StatusApproved,
				},
			}, nil
		},
	}
	router := newTestRouter(svc)

	req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/2026-02/calculate", nil), "op-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp calculateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "already_finalized", resp.Outcome)
}

func TestCalculateEndpointRejectsBadPeriod(t *testing.T) {
	svc := &stubValuationService{
		calculateFn: func(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
			t.Fatal("service must not be called for a malformed period")
			return valuation.CalculationResult{}, nil
		},
	}
	router := newTestRouter(svc)

	for _, period := range []string{"2026-13", "2026-1", "garbage"} {
		req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/"+period+"/calculate", nil), "op-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, period)
	}
}

func TestCalculateEndpointMapsPermissionDenied(t *testing.T) {
	svc := &stubValuationService{
		calculateFn: func(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error) {
			return valuation.CalculationResult{}, fmt.Errorf("%w: stranger is not a registered operator", shared.ErrPermissionDenied)
		},
	}
	router := newTestRouter(svc)

	req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/2026-02/calculate", nil), "stranger")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestApproveEndpoint(t *testing.T) {
	var captured valuation.ApproveInput
	svc := &stubValuationService{
		approveFn: func(ctx context.Context, in valuation.ApproveInput) (valuation.ApprovalResult, error) {
			captured = in
			return valuation.ApprovalResult{
				Approved:   true,
				Count:      2,
				TotalUnits: 150,
				TotalLocal: 0.9,
				Message:    "2 entries approved",
			}, nil
		},
	}
	router := newTestRouter(svc)

	body := strings.NewReader(`{"recipient_id":"charity-a"}`)
	req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/2026-02/approve", body), "op-1")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "charity-a", captured.RecipientID)
	require.Equal(t, "op-1", captured.OperatorID)

	var resp approveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, int64(150), resp.TotalUnits)
}

func TestApproveEndpointWithoutBody(t *testing.T) {
	svc := &stubValuationService{
		approveFn: func(ctx context.Context, in valuation.ApproveInput) (valuation.ApprovalResult, error) {
			require.Empty(t, in.RecipientID)
			return valuation.ApprovalResult{Message: "no entries awaiting approval"}, nil
		},
	}
	router := newTestRouter(svc)

	req := asOperator(httptest.NewRequest(http.MethodPost, "/valuations/2026-02/approve", nil), "op-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp approveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, 0, resp.Count)
}

func TestSummaryEndpoint(t *testing.T) {
	svc := &stubValuationService{
		summaryFn: func(ctx context.Context, operatorID string) ([]valuation.PeriodSummary, error) {
			require.Equal(t, "op-1", operatorID)
			return []valuation.PeriodSummary{
				{
					Valuation:    valuation.PeriodValuation{Period: "2026-02", UnitValue: 0.006},
					PendingCount: 3,
					PendingUnits: 350,
				},
			}, nil
		},
	}
	router := newTestRouter(svc)

	req := asOperator(httptest.NewRequest(http.MethodGet, "/valuations/summary", nil), "op-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var views []summaryView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "2026-02", views[0].Valuation.Period)
	require.Equal(t, 3, views[0].PendingCount)
}
