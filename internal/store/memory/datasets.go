package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/dataset"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type batchRepo struct{ s *Store }

func cloneBatch(b *dataset.Batch, withRows bool) *dataset.Batch {
	c := *b
	c.Images = append([]string{}, b.Images...)
	c.Rows = nil
	if withRows {
		c.Rows = append([]dataset.Row{}, b.Rows...)
	}
	return &c
}

func (r batchRepo) Create(_ context.Context, b *dataset.Batch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[b.UploadedBy]; !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = r.s.now()
	b.RowCount = len(b.Rows)
	r.s.batches[b.ID] = cloneBatch(b, true)
	r.s.track(b.ID)
	return nil
}

func (r batchRepo) GetByID(_ context.Context, id uuid.UUID) (*dataset.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no dataset found with that id")
	}
	return cloneBatch(b, true), nil
}

func (r batchRepo) List(_ context.Context, limit, offset int) ([]*dataset.Batch, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*dataset.Batch, 0, len(r.s.batches))
	for _, b := range r.s.batches {
		items = append(items, cloneBatch(b, false))
	}
	sortItems(r.s, items, func(b *dataset.Batch) uuid.UUID { return b.ID }, "", nil)
	return page(items, limit, offset), len(items), nil
}
