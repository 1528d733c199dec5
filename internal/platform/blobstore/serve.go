package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// Open downloads blob id provided its reference is among refs, the blobs a
// record the caller was authorized to read points at. Anything else is
// NotFound.
func Open(ctx context.Context, store BlobStore, id string, refs []string) (io.ReadCloser, *BlobMetadata, error) {
	if id == "" || !slices.Contains(refs, refScheme+id) {
		return nil, nil, apperr.New(apperr.NotFound, "file not found")
	}
	rc, meta, err := store.Download(ctx, id)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, apperr.New(apperr.NotFound, "file not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("download blob %s: %w", id, err)
	}
	return rc, meta, nil
}

// Serve streams an opened blob inline and closes it.
func Serve(c echo.Context, rc io.ReadCloser, meta *BlobMetadata) error {
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
