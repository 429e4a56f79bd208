package operators

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stepfund/valued/internal/shared"
)

type memoryOperatorRepo struct {
	operators map[string]Operator
}

func (r *memoryOperatorRepo) Get(ctx context.Context, id string) (Operator, error) {
	op, ok := r.operators[id]
	if !ok {
		return Operator{}, fmt.Errorf("%w: operator %s", shared.ErrNotFound, id)
	}
	return op, nil
}

func newTestRegistry(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &memoryOperatorRepo{operators: map[string]Operator{
		"op-1": {ID: "op-1", Name: "Duty Operator", TokenHash: hash, CreatedAt: time.Now()},
	}}
	return NewService(repo)
}

func TestIsOperator(t *testing.T) {
	svc := newTestRegistry(t)

	ok, err := svc.IsOperator(context.Background(), "op-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.IsOperator(context.Background(), "stranger")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.IsOperator(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestRegistry(t)

	op, err := svc.Authenticate(context.Background(), "op-1", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "op-1", op.ID)

	_, err = svc.Authenticate(context.Background(), "op-1", "wrong")
	require.True(t, errors.Is(err, shared.ErrUnauthenticated))

	_, err = svc.Authenticate(context.Background(), "stranger", "s3cret")
	require.True(t, errors.Is(err, shared.ErrUnauthenticated))

	_, err = svc.Authenticate(context.Background(), "", "")
	require.True(t, errors.Is(err, shared.ErrUnauthenticated))
}
