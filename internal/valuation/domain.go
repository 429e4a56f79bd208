// Package valuation implements the monthly unit-value calculation and
// pending-donation settlement engine: it converts a period's advertising
// revenue into a per-unit monetary value, stamps that value onto pending
// ledger entries, and moves them through operator approval.
package valuation

import (
	"errors"
	"time"

	"github.com/stepfund/valued/internal/ledger"
)

// Status captures the lifecycle of a period valuation record.
type Status string

const (
	// StatusCalculated means the unit value is computed and persisted but the
	// settlement phase has not been confirmed finished.
	StatusCalculated Status = "calculated"
	// StatusCompleted means settlement for the period fully ran.
	StatusCompleted Status = "completed"
	// StatusApproved means an operator signed off on the settled entries.
	StatusApproved Status = "approved"
)

// PeriodValuation is the versioned record of one period's computation, keyed
// by the YYYY-MM period identifier.
type PeriodValuation struct {
	Period          string
	RevenueBase     float64
	RevenueLocal    float64
	ExchangeRate    float64
	PoolRatio       float64
	PoolLocal       float64
	UnitsDelta      int64 // signed production delta, kept raw for audit
	CumulativeUnits int64 // population total as of this period's end
	UnitValue       float64
	Status          Status
	CalculatedAt    time.Time
	CompletedAt     *time.Time
	ApprovedAt      *time.Time
	ApprovedBy      *string
	Manual          bool
	TriggeredBy     *string
}

// Finalized reports whether a new calculation run for this period must be a
// no-op. A record that is calculated but missing the completed_at stamp is a
// partial run and stays resumable.
func (v PeriodValuation) Finalized() bool {
	switch v.Status {
	case StatusApproved, StatusCompleted:
		return true
	case StatusCalculated:
		return v.CompletedAt != nil
	default:
		return false
	}
}

// Outcome distinguishes a fresh computation from the idempotency guard
// short-circuit. The short-circuit is a success variant, not an error.
type Outcome string

const (
	// OutcomeCalculated means the engine computed and settled the period.
	OutcomeCalculated Outcome = "calculated"
	// OutcomeAlreadyFinalized means the period was already fully processed
	// and the run performed zero writes.
	OutcomeAlreadyFinalized Outcome = "already_finalized"
)

// CalculationResult is returned by Calculate.
type CalculationResult struct {
	Outcome        Outcome
	Valuation      PeriodValuation
	SettledEntries int
	Message        string
}

// ApprovalResult is returned by Approve.
type ApprovalResult struct {
	Approved   bool
	Count      int
	TotalUnits int64
	TotalLocal float64
	Message    string
}

// PeriodSummary combines a valuation record with its outstanding entries.
type PeriodSummary struct {
	Valuation    PeriodValuation
	PendingCount int
	PendingUnits int64
	Breakdown    []ledger.RecipientBreakdown
}

// ErrAlreadyFinalized is the internal signal from the guarded repository
// write. The service translates it into OutcomeAlreadyFinalized; it never
// escapes to callers.
var ErrAlreadyFinalized = errors.New("valuation: period already finalized")

// ErrConcurrentRun indicates another invocation created the period record
// first. Retrying is safe; the guard then resolves the winner's state.
var ErrConcurrentRun = errors.New("valuation: concurrent calculation in progress")
