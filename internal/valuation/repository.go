package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stepfund/valued/internal/platform/db"
)

// Repository persists period valuation records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const valuationColumns = `period, revenue_base, revenue_local, exchange_rate, pool_ratio, pool_local,
	units_delta, cumulative_units, unit_value, status, calculated_at, completed_at,
	approved_at, approved_by, manual, triggered_by`

// Get returns the record for a period, or nil when absent.
func (r *Repository) Get(ctx context.Context, period string) (*PeriodValuation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+valuationColumns+` FROM period_valuations WHERE period = $1`, period)
	v, err := scanValuation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("valuation: get %s: %w", period, err)
	}
	return &v, nil
}

// UpsertCalculated writes a freshly computed record. The guard is re-checked
// under a row lock inside the transaction, so a concurrent run that already
// finalized the period aborts here instead of overwriting it. A concurrent
// fresh insert loses on the primary key and surfaces as ErrConcurrentRun.
func (r *Repository) UpsertCalculated(ctx context.Context, v PeriodValuation) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var status Status
		var completedAt *time.Time
		err := tx.QueryRow(ctx, `SELECT status, completed_at FROM period_valuations WHERE period = $1 FOR UPDATE`, v.Period).
			Scan(&status, &completedAt)
		switch {
		case err == nil:
			existing := PeriodValuation{Status: status, CompletedAt: completedAt}
			if existing.Finalized() {
				return ErrAlreadyFinalized
			}
			_, err = tx.Exec(ctx, `UPDATE period_valuations
SET revenue_base = $2, revenue_local = $3, exchange_rate = $4, pool_ratio = $5, pool_local = $6,
    units_delta = $7, cumulative_units = $8, unit_value = $9, status = $10, calculated_at = $11,
    completed_at = NULL, approved_at = NULL, approved_by = NULL, manual = $12, triggered_by = $13
WHERE period = $1`,
				v.Period, v.RevenueBase, v.RevenueLocal, v.ExchangeRate, v.PoolRatio, v.PoolLocal,
				v.UnitsDelta, v.CumulativeUnits, v.UnitValue, v.Status, v.CalculatedAt, v.Manual, v.TriggeredBy)
			if err != nil {
				return fmt.Errorf("valuation: resume %s: %w", v.Period, err)
			}
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx, `INSERT INTO period_valuations (`+valuationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, NULL, $12, $13)`,
				v.Period, v.RevenueBase, v.RevenueLocal, v.ExchangeRate, v.PoolRatio, v.PoolLocal,
				v.UnitsDelta, v.CumulativeUnits, v.UnitValue, v.Status, v.CalculatedAt, v.Manual, v.TriggeredBy)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return fmt.Errorf("%w: period %s", ErrConcurrentRun, v.Period)
				}
				return fmt.Errorf("valuation: insert %s: %w", v.Period, err)
			}
			return nil
		default:
			return fmt.Errorf("valuation: guard %s: %w", v.Period, err)
		}
	})
}

// MarkCompleted stamps completed_at once settlement has fully run.
func (r *Repository) MarkCompleted(ctx context.Context, period string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE period_valuations SET completed_at = $2 WHERE period = $1`, period, at)
	if err != nil {
		return fmt.Errorf("valuation: mark completed %s: %w", period, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("valuation: mark completed %s: record missing", period)
	}
	return nil
}

// MarkApproved records the latest approval action on the period record.
func (r *Repository) MarkApproved(ctx context.Context, period, operatorID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE period_valuations
SET status = $2, approved_at = $3, approved_by = $4
WHERE period = $1`, period, StatusApproved, at, operatorID)
	if err != nil {
		return fmt.Errorf("valuation: mark approved %s: %w", period, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("valuation: mark approved %s: record missing", period)
	}
	return nil
}

// ListRecent returns the newest records, most recent period first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]PeriodValuation, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := r.pool.Query(ctx, `SELECT `+valuationColumns+` FROM period_valuations ORDER BY period DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("valuation: list recent: %w", err)
	}
	defer rows.Close()

	var out []PeriodValuation
	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			return nil, fmt.Errorf("valuation: scan record: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanValuation(row pgx.Row) (PeriodValuation, error) {
	var v PeriodValuation
	err := row.Scan(&v.Period, &v.RevenueBase, &v.RevenueLocal, &v.ExchangeRate, &v.PoolRatio, &v.PoolLocal,
		&v.UnitsDelta, &v.CumulativeUnits, &v.UnitValue, &v.Status, &v.CalculatedAt, &v.CompletedAt,
		&v.ApprovedAt, &v.ApprovedBy, &v.Manual, &v.TriggeredBy)
	return v, err
}
