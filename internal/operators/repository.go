package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stepfund/valued/internal/shared"
)

// Repository loads operators from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches an operator by id.
func (r *Repository) Get(ctx context.Context, id string) (Operator, error) {
	var op Operator
	err := r.pool.QueryRow(ctx, `SELECT id, name, token_hash, created_at FROM operators WHERE id = $1`, id).
		Scan(&op.ID, &op.Name, &op.TokenHash, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operator{}, fmt.Errorf("%w: operator %s", shared.ErrNotFound, id)
		}
		return Operator{}, fmt.Errorf("operators: get %s: %w", id, err)
	}
	return op, nil
}
