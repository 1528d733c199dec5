package dataset

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
)

type Service struct {
	batches Repository
	blobs   blobstore.BlobStore
	logger  zerolog.Logger
}

func NewService(batches Repository, blobs blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{batches: batches, blobs: blobs, logger: logger}
}

func requireAdmin(actor access.Actor) error {
	if actor.Role != access.Admin {
		return apperr.New(apperr.Forbidden, "only admins manage datasets")
	}
	return nil
}

// Upload validates the sheet against the image file names before anything
// is stored, then stores the images and the sheet and records the batch.
func (s *Service) Upload(ctx context.Context, actor access.Actor, sheet File, images []File) (*Batch, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, apperr.New(apperr.ValidationFailed, "at least one image is required")
	}
	parsed, err := ParseSheet(sheet.Name, sheet.Data)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(images))
	for _, img := range images {
		if _, dup := names[img.Name]; dup {
			return nil, apperr.New(apperr.ValidationFailed, "image %q was uploaded twice", img.Name)
		}
		names[img.Name] = ""
	}
	if _, err := parsed.Join(names); err != nil {
		return nil, err
	}

	b := &Batch{ID: uuid.New(), UploadedBy: actor.ID, SheetName: sheet.Name}
	var stored []string
	fail := func(err error) (*Batch, error) {
		if derr := blobstore.DeleteRefs(ctx, s.blobs, stored); derr != nil {
			s.logger.Warn().Err(derr).Str("batch_id", b.ID.String()).Msg("remove dataset blobs")
		}
		return nil, err
	}

	for _, img := range images {
		meta, err := blobstore.Put(ctx, s.blobs, blobstore.BlobMetadata{
			FileName:    img.Name,
			ContentType: img.ContentType,
			Category:    blobstore.CategoryDatasetImage,
			OwnerID:     b.ID.String(),
		}, img.Data)
		if err != nil {
			return fail(err)
		}
		names[img.Name] = meta.Ref()
		stored = append(stored, meta.Ref())
		b.Images = append(b.Images, meta.Ref())
	}
	meta, err := blobstore.Put(ctx, s.blobs, blobstore.BlobMetadata{
		FileName:    sheet.Name,
		ContentType: sheet.ContentType,
		Category:    blobstore.CategoryDatasetSheet,
		OwnerID:     b.ID.String(),
	}, sheet.Data)
	if err != nil {
		return fail(err)
	}
	b.SheetRef = meta.Ref()
	stored = append(stored, meta.Ref())

	if b.Rows, err = parsed.Join(names); err != nil {
		return fail(err)
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return fail(err)
	}
	s.logger.Info().Str("batch_id", b.ID.String()).Int("images", len(b.Images)).Int("rows", len(b.Rows)).Msg("dataset uploaded")
	return b, nil
}

func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Batch, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.batches.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, actor access.Actor, limit, offset int) ([]*Batch, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return s.batches.List(ctx, limit, offset)
}

// File opens the sheet or one of the images of a batch.
func (s *Service) File(ctx context.Context, actor access.Actor, id uuid.UUID, blobID string) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	refs := append([]string{b.SheetRef}, b.Images...)
	return blobstore.Open(ctx, s.blobs, blobID, refs)
}
