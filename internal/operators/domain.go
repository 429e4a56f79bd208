package operators

import (
	"context"
	"time"
)

// Operator is a registered human operator allowed to trigger manual
// calculations and approvals.
type Operator struct {
	ID        string
	Name      string
	TokenHash []byte
	CreatedAt time.Time
}

// Registry answers authorization questions about operator identities.
type Registry interface {
	// IsOperator reports whether the id belongs to a registered operator.
	IsOperator(ctx context.Context, id string) (bool, error)
	// Authenticate verifies an id/secret pair and returns the operator.
	Authenticate(ctx context.Context, id, secret string) (Operator, error)
}

// RepositoryPort defines data access for operators.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Operator, error)
}
