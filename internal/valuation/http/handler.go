// Package valuationhttp exposes the operator API for the valuation engine.
package valuationhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stepfund/valued/internal/platform/httpx"
	"github.com/stepfund/valued/internal/shared"
	"github.com/stepfund/valued/internal/valuation"
)

type valuationService interface {
	Calculate(ctx context.Context, in valuation.CalculateInput) (valuation.CalculationResult, error)
	Approve(ctx context.Context, in valuation.ApproveInput) (valuation.ApprovalResult, error)
	Summary(ctx context.Context, operatorID string) ([]valuation.PeriodSummary, error)
}

// Handler wires HTTP endpoints for manual calculation, approval and summary.
type Handler struct {
	logger   *slog.Logger
	service  valuationService
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service valuationService) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers valuation routes. Callers are expected to wrap the
// router with operator authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{period}/calculate", h.calculate)
	r.Post("/{period}/approve", h.approve)
	r.Get("/summary", h.summary)
}

type valuationView struct {
	Period          string     `json:"period"`
	RevenueBase     float64    `json:"revenue_base"`
	RevenueLocal    float64    `json:"revenue_local"`
	ExchangeRate    float64    `json:"exchange_rate"`
	PoolRatio       float64    `json:"pool_ratio"`
	PoolLocal       float64    `json:"pool_local"`
	UnitsDelta      int64      `json:"units_delta"`
	CumulativeUnits int64      `json:"cumulative_units"`
	UnitValue       float64    `json:"unit_value"`
	Status          string     `json:"status"`
	CalculatedAt    time.Time  `json:"calculated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	Manual          bool       `json:"manual"`
	TriggeredBy     *string    `json:"triggered_by,omitempty"`
}

type calculateResponse struct {
	Success        bool          `json:"success"`
	Outcome        string        `json:"outcome"`
	SettledEntries int           `json:"settled_entries"`
	Message        string        `json:"message"`
	Valuation      valuationView `json:"valuation"`
}

type approveRequest struct {
	RecipientID string `json:"recipient_id" validate:"omitempty,max=64"`
}

type approveResponse struct {
	Success    bool    `json:"success"`
	Count      int     `json:"count"`
	TotalUnits int64   `json:"total_units"`
	TotalLocal float64 `json:"total_local"`
	Message    string  `json:"message"`
}

type breakdownView struct {
	RecipientID   string  `json:"recipient_id"`
	RecipientName string  `json:"recipient_name"`
	Count         int     `json:"count"`
	Units         int64   `json:"units"`
	LocalValue    float64 `json:"local_value"`
}

type summaryView struct {
	Valuation    valuationView   `json:"valuation"`
	PendingCount int             `json:"pending_count"`
	PendingUnits int64           `json:"pending_units"`
	Breakdown    []breakdownView `json:"breakdown"`
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	period, err := shared.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	operatorID := shared.OperatorFromContext(r.Context())

	result, err := h.service.Calculate(r.Context(), valuation.CalculateInput{
		Period:     period,
		Manual:     true,
		OperatorID: operatorID,
	})
	if err != nil {
		h.logger.Error("manual calculation", slog.String("period", period.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, calculateResponse{
		Success:        result.Outcome == valuation.OutcomeCalculated,
		Outcome:        string(result.Outcome),
		SettledEntries: result.SettledEntries,
		Message:        result.Message,
		Valuation:      toValuationView(result.Valuation),
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	period, err := shared.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
		return
	}
	operatorID := shared.OperatorFromContext(r.Context())

	result, err := h.service.Approve(r.Context(), valuation.ApproveInput{
		Period:      period,
		RecipientID: req.RecipientID,
		OperatorID:  operatorID,
	})
	if err != nil {
		h.logger.Error("approve entries", slog.String("period", period.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, approveResponse{
		Success:    result.Approved,
		Count:      result.Count,
		TotalUnits: result.TotalUnits,
		TotalLocal: result.TotalLocal,
		Message:    result.Message,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	operatorID := shared.OperatorFromContext(r.Context())

	summaries, err := h.service.Summary(r.Context(), operatorID)
	if err != nil {
		h.logger.Error("valuation summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	views := make([]summaryView, 0, len(summaries))
	for _, s := range summaries {
		view := summaryView{
			Valuation:    toValuationView(s.Valuation),
			PendingCount: s.PendingCount,
			PendingUnits: s.PendingUnits,
			Breakdown:    make([]breakdownView, 0, len(s.Breakdown)),
		}
		for _, b := range s.Breakdown {
			view.Breakdown = append(view.Breakdown, breakdownView{
				RecipientID:   b.RecipientID,
				RecipientName: b.RecipientName,
				Count:         b.Count,
				Units:         b.Units,
				LocalValue:    b.LocalValue,
			})
		}
		views = append(views, view)
	}
	httpx.JSON(w, http.StatusOK, views)
}

func toValuationView(v valuation.PeriodValuation) valuationView {
	return valuationView{
		Period:          v.Period,
		RevenueBase:     v.RevenueBase,
		RevenueLocal:    v.RevenueLocal,
		ExchangeRate:    v.ExchangeRate,
		PoolRatio:       v.PoolRatio,
		PoolLocal:       v.PoolLocal,
		UnitsDelta:      v.UnitsDelta,
		CumulativeUnits: v.CumulativeUnits,
		UnitValue:       v.UnitValue,
		Status:          string(v.Status),
		CalculatedAt:    v.CalculatedAt,
		CompletedAt:     v.CompletedAt,
		ApprovedAt:      v.ApprovedAt,
		ApprovedBy:      v.ApprovedBy,
		Manual:          v.Manual,
		TriggeredBy:     v.TriggeredBy,
	}
}
