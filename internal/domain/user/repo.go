package user

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists users. Implementations return apperr NotFound for
// missing users and Conflict for duplicate emails or for deleting a user
// still referenced by clinical records.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error)
}
