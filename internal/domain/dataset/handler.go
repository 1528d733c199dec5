package dataset

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/datasets", auth.RequireRole(string(access.Admin)))
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/files/:blobId", h.File)
}

var sheetContentTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func readFile(fh *multipart.FileHeader) (File, error) {
	f, err := fh.Open()
	if err != nil {
		return File{}, apperr.Wrap(err, apperr.ValidationFailed, "cannot read uploaded file %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, blobstore.MaxFileSize+1))
	if err != nil {
		return File{}, apperr.Wrap(err, apperr.ValidationFailed, "cannot read uploaded file %s", fh.Filename)
	}
	if len(data) > blobstore.MaxFileSize {
		return File{}, apperr.New(apperr.ValidationFailed, "%s: %v", fh.Filename, blobstore.ErrFileTooLarge)
	}
	return File{Name: fh.Filename, ContentType: fh.Header.Get(echo.HeaderContentType), Data: data}, nil
}

// Upload takes a multipart form with one "sheet" file and any number of
// "images" files.
func (h *Handler) Upload(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid multipart form")
	}
	sheets := form.File["sheet"]
	if len(sheets) != 1 {
		return apperr.New(apperr.ValidationFailed, "exactly one sheet file is required")
	}
	sheet, err := readFile(sheets[0])
	if err != nil {
		return err
	}
	if ct, ok := sheetContentTypes[strings.ToLower(filepath.Ext(sheet.Name))]; ok {
		sheet.ContentType = ct
	}

	images := make([]File, 0, len(form.File["images"]))
	for _, fh := range form.File["images"] {
		img, err := readFile(fh)
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	b, err := h.svc.Upload(c.Request().Context(), actor, sheet, images)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid dataset id")
	}
	b, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) File(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid dataset id")
	}
	rc, meta, err := h.svc.File(c.Request().Context(), actor, id, c.Param("blobId"))
	if err != nil {
		return err
	}
	return blobstore.Serve(c, rc, meta)
}
