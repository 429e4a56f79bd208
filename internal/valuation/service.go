package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stepfund/valued/internal/ledger"
	"github.com/stepfund/valued/internal/shared"
)

// RepositoryPort defines persistence for period valuation records.
type RepositoryPort interface {
	// Get returns the record for a period, or nil when absent.
	Get(ctx context.Context, period string) (*PeriodValuation, error)
	// UpsertCalculated persists a computed record with status calculated and
	// no completion stamp. It re-checks the idempotency guard under a row
	// lock and returns ErrAlreadyFinalized or ErrConcurrentRun when another
	// run won.
	UpsertCalculated(ctx context.Context, v PeriodValuation) error
	// MarkCompleted stamps completed_at after settlement finished.
	MarkCompleted(ctx context.Context, period string, at time.Time) error
	// MarkApproved records the latest approval action on the period record.
	MarkApproved(ctx context.Context, period, operatorID string, at time.Time) error
	// ListRecent returns the newest records, most recent period first.
	ListRecent(ctx context.Context, limit int) ([]PeriodValuation, error)
}

// LedgerPort defines the ledger operations the engine consumes.
type LedgerPort interface {
	CumulativeUnits(ctx context.Context) (int64, error)
	ListPending(ctx context.Context, period string) ([]ledger.Entry, error)
	SettleBatch(ctx context.Context, ids []uuid.UUID, unitValue float64, settledAt time.Time) (int, error)
	ListPendingApproval(ctx context.Context, period, recipientID string) ([]ledger.Entry, error)
	ApproveBatch(ctx context.Context, ids []uuid.UUID, operatorID string, approvedAt time.Time) (int, error)
	PendingBreakdown(ctx context.Context, period string) ([]ledger.RecipientBreakdown, error)
}

// RevenuePort supplies base-currency revenue totals.
type RevenuePort interface {
	RangeTotal(ctx context.Context, from, to time.Time) (float64, bool, error)
	SnapshotTotal(ctx context.Context) (float64, error)
}

// OperatorRegistry authorizes manual invocations.
type OperatorRegistry interface {
	IsOperator(ctx context.Context, id string) (bool, error)
}

// AuditRecorder persists operator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SummaryCache caches the operator summary between mutations.
type SummaryCache interface {
	Get(ctx context.Context) ([]PeriodSummary, bool, error)
	Set(ctx context.Context, summaries []PeriodSummary) error
	Invalidate(ctx context.Context) error
}

// Config tunes the engine.
type Config struct {
	// PoolRatio is the fraction of local revenue allocated to the donation pool.
	PoolRatio float64
	// ExchangeRate converts base-currency revenue to the local currency.
	ExchangeRate float64
	// SettleBatchSize bounds each atomic batch write.
	SettleBatchSize int
	// SummaryPeriods is how many recent periods the summary covers.
	SummaryPeriods int
}

func (c Config) withDefaults() Config {
	if c.PoolRatio <= 0 {
		c.PoolRatio = 0.60
	}
	if c.ExchangeRate <= 0 {
		c.ExchangeRate = 35.0
	}
	if c.SettleBatchSize <= 0 {
		c.SettleBatchSize = 500
	}
	if c.SummaryPeriods <= 0 {
		c.SummaryPeriods = 12
	}
	return c
}

// Service orchestrates the monthly valuation state machine.
type Service struct {
	repo     RepositoryPort
	entries  LedgerPort
	revenue  RevenuePort
	registry OperatorRegistry
	audit    AuditRecorder
	cache    SummaryCache
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	flight   singleflight.Group
	printer  *message.Printer
}

// NewService constructs a Service instance. audit and cache may be nil.
func NewService(repo RepositoryPort, entries LedgerPort, revenue RevenuePort, registry OperatorRegistry, audit AuditRecorder, cache SummaryCache, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		entries:  entries,
		revenue:  revenue,
		registry: registry,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		printer:  message.NewPrinter(language.English),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CalculateInput selects the target period and records how the run was
// triggered. Scheduled runs leave OperatorID empty and Manual false.
type CalculateInput struct {
	Period     shared.Period
	Manual     bool
	OperatorID string
}

// Calculate runs the period value state machine: idempotency guard, revenue
// acquisition, pool and unit-value computation, record upsert, settlement,
// completion stamp. Any failure before the completion stamp leaves the record
// absent or resumable, so re-invoking with the same period is always safe.
func (s *Service) Calculate(ctx context.Context, in CalculateInput) (CalculationResult, error) {
	if in.Period.IsZero() {
		return CalculationResult{}, fmt.Errorf("%w: period required", shared.ErrInvalidArgument)
	}
	if in.Manual {
		if err := s.requireOperator(ctx, in.OperatorID); err != nil {
			return CalculationResult{}, err
		}
	}
	periodID := in.Period.String()

	existing, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return CalculationResult{}, err
	}
	if existing != nil && existing.Finalized() {
		return s.alreadyFinalized(*existing), nil
	}
	if existing != nil {
		s.logger.Info("resuming partial valuation run", slog.String("period", periodID))
	}

	v, err := s.compute(ctx, in)
	if err != nil {
		return CalculationResult{}, err
	}

	// The repository re-checks the guard under a row lock before writing, so
	// a schedule firing during a manual run cannot both advance the record.
	if err := s.repo.UpsertCalculated(ctx, v); err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			final, getErr := s.repo.Get(ctx, periodID)
			if getErr == nil && final != nil {
				return s.alreadyFinalized(*final), nil
			}
			return s.alreadyFinalized(v), nil
		}
		return CalculationResult{}, err
	}

	settled, err := s.settlePending(ctx, periodID, v.UnitValue)
	if err != nil {
		return CalculationResult{}, err
	}

	completedAt := s.now()
	if err := s.repo.MarkCompleted(ctx, periodID, completedAt); err != nil {
		return CalculationResult{}, err
	}
	v.CompletedAt = &completedAt

	s.invalidateSummary(ctx)
	s.recordAudit(ctx, in.OperatorID, "valuation.calculate", periodID, map[string]any{
		"manual":     in.Manual,
		"unit_value": v.UnitValue,
		"settled":    settled,
	})
	s.logger.Info("period valuation completed",
		slog.String("period", periodID),
		slog.Float64("unit_value", v.UnitValue),
		slog.Int("settled_entries", settled),
		slog.Bool("manual", in.Manual))

	return CalculationResult{
		Outcome:        OutcomeCalculated,
		Valuation:      v,
		SettledEntries: settled,
		Message: s.printer.Sprintf("period %s: 1 unit = ₺%.6f (%d units produced, pool ₺%.2f, %d entries settled)",
			periodID, v.UnitValue, v.UnitsDelta, v.PoolLocal, settled),
	}, nil
}

// compute performs the read-only half of a calculation run.
func (s *Service) compute(ctx context.Context, in CalculateInput) (PeriodValuation, error) {
	periodID := in.Period.String()
	from, to := in.Period.Bounds()

	revenueBase, hasHistory, err := s.revenue.RangeTotal(ctx, from, to)
	if err != nil {
		return PeriodValuation{}, err
	}
	if !hasHistory {
		revenueBase, err = s.revenue.SnapshotTotal(ctx)
		if err != nil {
			return PeriodValuation{}, err
		}
	}
	revenueLocal := revenueBase * s.cfg.ExchangeRate
	pool := revenueLocal * s.cfg.PoolRatio

	cumulativeNow, err := s.entries.CumulativeUnits(ctx)
	if err != nil {
		return PeriodValuation{}, err
	}
	var previousCumulative int64
	prev, err := s.repo.Get(ctx, in.Period.Previous().String())
	if err != nil {
		return PeriodValuation{}, err
	}
	if prev != nil {
		previousCumulative = prev.CumulativeUnits
	}

	// The raw delta stays signed for audit; only the valuation divisor is
	// clamped so corrections can never yield a negative unit value.
	delta := cumulativeNow - previousCumulative
	divisor := delta
	if divisor < 0 {
		divisor = 0
	}
	unitValue := 0.0
	if divisor > 0 {
		unitValue = pool / float64(divisor)
	}

	v := PeriodValuation{
		Period:          periodID,
		RevenueBase:     revenueBase,
		RevenueLocal:    revenueLocal,
		ExchangeRate:    s.cfg.ExchangeRate,
		PoolRatio:       s.cfg.PoolRatio,
		PoolLocal:       pool,
		UnitsDelta:      delta,
		CumulativeUnits: cumulativeNow,
		UnitValue:       unitValue,
		Status:          StatusCalculated,
		CalculatedAt:    s.now(),
		Manual:          in.Manual,
	}
	if in.Manual && in.OperatorID != "" {
		operator := in.OperatorID
		v.TriggeredBy = &operator
	}
	return v, nil
}

// ApproveInput scopes an approval action.
type ApproveInput struct {
	Period      shared.Period
	RecipientID string
	OperatorID  string
}

// Approve promotes settled entries to completed and stamps the period record
// with the latest approval action. Calling it with nothing to approve is a
// zero-count success, not an error.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (ApprovalResult, error) {
	if in.Period.IsZero() {
		return ApprovalResult{}, fmt.Errorf("%w: period required", shared.ErrInvalidArgument)
	}
	if err := s.requireOperator(ctx, in.OperatorID); err != nil {
		return ApprovalResult{}, err
	}
	periodID := in.Period.String()

	entries, err := s.entries.ListPendingApproval(ctx, periodID, in.RecipientID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if len(entries) == 0 {
		return ApprovalResult{Message: "no entries awaiting approval"}, nil
	}

	approvedAt := s.now()
	var totalUnits int64
	var totalLocal float64
	count := 0
	for start := 0; start < len(entries); start += s.cfg.SettleBatchSize {
		end := start + s.cfg.SettleBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		ids := make([]uuid.UUID, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		n, err := s.entries.ApproveBatch(ctx, ids, in.OperatorID, approvedAt)
		if err != nil {
			return ApprovalResult{}, err
		}
		count += n
		for _, e := range batch {
			totalUnits += e.Amount
			if e.LocalValue != nil {
				totalLocal += *e.LocalValue
			}
		}
	}

	if err := s.repo.MarkApproved(ctx, periodID, in.OperatorID, approvedAt); err != nil {
		return ApprovalResult{}, err
	}

	s.invalidateSummary(ctx)
	s.recordAudit(ctx, in.OperatorID, "valuation.approve", periodID, map[string]any{
		"recipient_id": in.RecipientID,
		"count":        count,
		"total_units":  totalUnits,
		"total_local":  totalLocal,
	})
	s.logger.Info("entries approved",
		slog.String("period", periodID),
		slog.Int("count", count),
		slog.Int64("total_units", totalUnits))

	return ApprovalResult{
		Approved:   true,
		Count:      count,
		TotalUnits: totalUnits,
		TotalLocal: totalLocal,
		Message:    s.printer.Sprintf("%d entries approved (%d units = ₺%.2f)", count, totalUnits, totalLocal),
	}, nil
}

// Summary returns the most recent period records annotated with outstanding
// entry totals per recipient. Results are cached; concurrent rebuilds collapse
// into one.
func (s *Service) Summary(ctx context.Context, operatorID string) ([]PeriodSummary, error) {
	if err := s.requireOperator(ctx, operatorID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx); err == nil && ok {
			return cached, nil
		} else if err != nil {
			s.logger.Warn("summary cache read", slog.Any("error", err))
		}
	}

	v, err, _ := s.flight.Do("summary", func() (any, error) {
		summaries, err := s.buildSummary(ctx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, summaries); err != nil {
				s.logger.Warn("summary cache write", slog.Any("error", err))
			}
		}
		return summaries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]PeriodSummary), nil
}

func (s *Service) buildSummary(ctx context.Context) ([]PeriodSummary, error) {
	records, err := s.repo.ListRecent(ctx, s.cfg.SummaryPeriods)
	if err != nil {
		return nil, err
	}
	summaries := make([]PeriodSummary, 0, len(records))
	for _, rec := range records {
		breakdown, err := s.entries.PendingBreakdown(ctx, rec.Period)
		if err != nil {
			return nil, err
		}
		sum := PeriodSummary{Valuation: rec, Breakdown: breakdown}
		for _, b := range breakdown {
			sum.PendingCount += b.Count
			sum.PendingUnits += b.Units
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *Service) requireOperator(ctx context.Context, operatorID string) error {
	if operatorID == "" {
		return fmt.Errorf("%w: operator identity required", shared.ErrUnauthenticated)
	}
	ok, err := s.registry.IsOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a registered operator", shared.ErrPermissionDenied, operatorID)
	}
	return nil
}

func (s *Service) alreadyFinalized(v PeriodValuation) CalculationResult {
	return CalculationResult{
		Outcome:   OutcomeAlreadyFinalized,
		Valuation: v,
		Message:   fmt.Sprintf("period %s already finalized (status %s)", v.Period, v.Status),
	}
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("summary cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil || actor == "" {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "period_valuation",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.Any("error", err))
	}
}
