package repository

import (
	"context"

	"proof-of-life-gate/internal/attempt/domain"
)

// Repository defines persistence for attempts.
type Repository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	GetByID(ctx context.Context, id string) (*domain.Attempt, error)
	GetByProofTokenHash(ctx context.Context, hash string) (*domain.Attempt, error)
	ListRecent(ctx context.Context, limit int32) ([]*domain.Attempt, error)
}
