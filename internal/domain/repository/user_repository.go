package repository

import (
	"context"

	"sharebox/internal/domain/entity"
)

// UserRepository looks users up in the identity provider.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}
