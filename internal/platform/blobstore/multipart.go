package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// UploadFile stores one multipart file part. Validation failures come back
// as apperr ValidationFailed so handlers can return them unchanged.
func UploadFile(ctx context.Context, store BlobStore, fh *multipart.FileHeader, category, ownerID string) (*BlobMetadata, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ValidationFailed, "cannot read uploaded file %s", fh.Filename)
	}
	defer f.Close()

	meta, err := store.Upload(ctx, BlobMetadata{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Category:    category,
		OwnerID:     ownerID,
	}, f)
	if err != nil {
		return nil, classify(fh.Filename, err)
	}
	return meta, nil
}

// UploadFiles stores every part, removing what was already stored if a later
// part fails.
func UploadFiles(ctx context.Context, store BlobStore, files []*multipart.FileHeader, category, ownerID string) ([]*BlobMetadata, error) {
	out := make([]*BlobMetadata, 0, len(files))
	for _, fh := range files {
		meta, err := UploadFile(ctx, store, fh, category, ownerID)
		if err != nil {
			_ = DeleteRefs(ctx, store, Refs(out))
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// Put stores content already held in memory, classifying errors like
// UploadFile.
func Put(ctx context.Context, store BlobStore, meta BlobMetadata, content []byte) (*BlobMetadata, error) {
	out, err := store.Upload(ctx, meta, bytes.NewReader(content))
	if err != nil {
		return nil, classify(meta.FileName, err)
	}
	return out, nil
}

func Refs(metas []*BlobMetadata) []string {
	refs := make([]string, len(metas))
	for i, m := range metas {
		refs[i] = m.Ref()
	}
	return refs
}

func classify(name string, err error) error {
	switch {
	case errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrInvalidContentType),
		errors.Is(err, ErrMissingFileName):
		return apperr.Wrap(err, apperr.ValidationFailed, "%s: %v", name, err)
	}
	return fmt.Errorf("store %s: %w", name, err)
}
