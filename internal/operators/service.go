package operators

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/stepfund/valued/internal/shared"
)

// Service implements Registry on top of a repository.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// IsOperator reports whether the id belongs to a registered operator.
func (s *Service) IsOperator(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	_, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Authenticate verifies the secret against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, id, secret string) (Operator, error) {
	if id == "" || secret == "" {
		return Operator{}, shared.ErrUnauthenticated
	}
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Operator{}, fmt.Errorf("%w: unknown operator", shared.ErrUnauthenticated)
		}
		return Operator{}, err
	}
	if err := bcrypt.CompareHashAndPassword(op.TokenHash, []byte(secret)); err != nil {
		return Operator{}, fmt.Errorf("%w: bad operator token", shared.ErrUnauthenticated)
	}
	return op, nil
}
