// Package revenue reads the advertising revenue figures written by the
// out-of-process reporting integration. Amounts are in the base currency
// (USD); conversion to the local currency happens in the valuation engine.
package revenue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads revenue data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RangeTotal sums the historized per-day series over [from, to). The boolean
// reports whether any rows existed for the range; callers fall back to the
// snapshot when it is false.
func (r *Repository) RangeTotal(ctx context.Context, from, to time.Time) (float64, bool, error) {
	var total float64
	var days int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_base), 0), COUNT(*)
FROM revenue_daily
WHERE day >= $1 AND day < $2`, from, to).Scan(&total, &days)
	if err != nil {
		return 0, false, fmt.Errorf("revenue: range total: %w", err)
	}
	return total, days > 0, nil
}

// DailyRevenue is one historized day of ad revenue in the base currency.
type DailyRevenue struct {
	Day       time.Time
	TotalBase float64
}

// ExistingDays lists the days in [from, to) that already have a revenue row.
func (r *Repository) ExistingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT day FROM revenue_daily
WHERE day >= $1 AND day < $2
ORDER BY day`, from, to)
	if err != nil {
		return nil, fmt.Errorf("revenue: existing days: %w", err)
	}
	defer rows.Close()
	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("revenue: existing days: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("revenue: existing days: %w", err)
	}
	return days, nil
}

// UpsertDays writes per-day revenue rows, replacing existing totals for the
// same day.
func (r *Repository) UpsertDays(ctx context.Context, days []DailyRevenue) error {
	for _, d := range days {
		_, err := r.pool.Exec(ctx, `INSERT INTO revenue_daily (day, total_base)
VALUES ($1, $2)
ON CONFLICT (day) DO UPDATE SET total_base = EXCLUDED.total_base`, d.Day, d.TotalBase)
		if err != nil {
			return fmt.Errorf("revenue: upsert day %s: %w", d.Day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// SnapshotTotal returns the current pre-aggregated revenue total, or zero when
// no snapshot has been written yet.
func (r *Repository) SnapshotTotal(ctx context.Context) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT total_base FROM revenue_snapshot LIMIT 1`).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("revenue: snapshot total: %w", err)
	}
	return total, nil
}
