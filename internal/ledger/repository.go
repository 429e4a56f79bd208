package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger entries and answers population-wide aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CumulativeUnits sums lifetime earned units across the entire user
// population. A missing attribute counts as zero. This is a full-population
// scan; it runs once per monthly calculation.
func (r *Repository) CumulativeUnits(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(COALESCE(lifetime_earned_units, 0)), 0) FROM users`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: cumulative units: %w", err)
	}
	return total, nil
}

const entryColumns = `id, user_id, entry_type, recipient_id, recipient_name, amount, period,
	unit_value, local_value, status, created_at, settled_at, approved_at, approved_by`

// ListPending returns donation entries still awaiting settlement for the
// period, oldest first.
func (r *Repository) ListPending(ctx context.Context, period string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+`
FROM ledger_entries
WHERE entry_type = $1 AND period = $2 AND status = $3
ORDER BY created_at ASC`, EntryTypeDonation, period, EntryStatusPending)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return scanEntries(rows)
}

// ListPendingApproval returns settled entries awaiting operator sign-off for
// the period, optionally scoped to one recipient.
func (r *Repository) ListPendingApproval(ctx context.Context, period, recipientID string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE entry_type = $1 AND period = $2 AND status = $3`
	args := []any{EntryTypeDonation, period, EntryStatusPendingApproval}
	if recipientID != "" {
		query += ` AND recipient_id = $4`
		args = append(args, recipientID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending approval: %w", err)
	}
	return scanEntries(rows)
}

// SettleBatch stamps the computed unit value on a batch of pending entries and
// advances them to pending_approval. The status predicate in the UPDATE makes
// re-runs skip entries another pass already settled. Each call is one atomic
// statement.
func (r *Repository) SettleBatch(ctx context.Context, ids []uuid.UUID, unitValue float64, settledAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `UPDATE ledger_entries
SET unit_value = $2,
    local_value = amount * $2,
    status = $3,
    settled_at = $4
WHERE id = ANY($1) AND status = $5`, ids, unitValue, EntryStatusPendingApproval, settledAt, EntryStatusPending)
	if err != nil {
		return 0, fmt.Errorf("ledger: settle batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ApproveBatch advances settled entries to completed with the approval stamp.
func (r *Repository) ApproveBatch(ctx context.Context, ids []uuid.UUID, operatorID string, approvedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `UPDATE ledger_entries
SET status = $2,
    approved_at = $3,
    approved_by = $4
WHERE id = ANY($1) AND status = $5`, ids, EntryStatusCompleted, approvedAt, operatorID, EntryStatusPendingApproval)
	if err != nil {
		return 0, fmt.Errorf("ledger: approve batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PendingBreakdown aggregates not-yet-completed entries for the period by
// recipient.
func (r *Repository) PendingBreakdown(ctx context.Context, period string) ([]RecipientBreakdown, error) {
	rows, err := r.pool.Query(ctx, `SELECT recipient_id, MAX(recipient_name), COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(local_value), 0)
FROM ledger_entries
WHERE entry_type = $1 AND period = $2 AND status IN ($3, $4)
GROUP BY recipient_id
ORDER BY recipient_id`, EntryTypeDonation, period, EntryStatusPending, EntryStatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("ledger: pending breakdown: %w", err)
	}
	defer rows.Close()

	var out []RecipientBreakdown
	for rows.Next() {
		var b RecipientBreakdown
		if err := rows.Scan(&b.RecipientID, &b.RecipientName, &b.Count, &b.Units, &b.LocalValue); err != nil {
			return nil, fmt.Errorf("ledger: scan breakdown: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.RecipientID, &e.RecipientName, &e.Amount, &e.Period,
			&e.UnitValue, &e.LocalValue, &e.Status, &e.CreatedAt, &e.SettledAt, &e.ApprovedAt, &e.ApprovedBy); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
