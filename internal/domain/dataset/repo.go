package dataset

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Batch) error
	// GetByID returns the batch with its rows.
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// List returns batches newest first, without rows.
	List(ctx context.Context, limit, offset int) ([]*Batch, int, error)
}
