package report

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/pkg/pagination"
)

// Multipart field names of createReport.
const (
	fieldData        = "data"
	fieldRightImages = "rightEyeImages"
	fieldLeftImages  = "leftEyeImages"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/reports", h.PatientWithReports)
	api.POST("/patients/:id/reports", h.Create, auth.RequireRole(string(access.Optician)))

	g := api.Group("/reports")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/images/:blobId", h.Image)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.PUT("/:id/feedback", h.SubmitFeedback, auth.RequireRole(string(access.Doctor)))
	g.PUT("/:id/feedback/read", h.MarkFeedbackRead, auth.RequireRole(string(access.Optician)))
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.ValidationFailed, "invalid %s id", what)
	}
	return id, nil
}

// Create accepts either a JSON body without images, or a multipart form
// whose "data" field holds the same JSON next to the eye image files.
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := access.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	patientID, err := parseID(c, "patient")
	if err != nil {
		return err
	}

	var (
		in   Input
		imgs Images
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperr.New(apperr.ValidationFailed, "invalid multipart form")
		}
		data := form.Value[fieldData]
		if len(data) == 0 {
			return apperr.New(apperr.ValidationFailed, "the %q field is required", fieldData)
		}
		if err := json.Unmarshal([]byte(data[0]), &in); err != nil {
			return apperr.New(apperr.ValidationFailed, "the %q field is not valid JSON", fieldData)
		}
		if imgs.Right, err = readImages(form.File[fieldRightImages]); err != nil {
			return err
		}
		if imgs.Left, err = readImages(form.File[fieldLeftImages]); err != nil {
			return err
		}
	} else if err := c.Bind(&in); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}

	rep, err := h.svc.Create(ctx, actor, patientID, in, imgs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rep)
}

func readImages(files []*multipart.FileHeader) ([]prediction.Image, error) {
	out := make([]prediction.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ValidationFailed, "cannot read uploaded file %s", fh.Filename)
		}
		data, err := io.ReadAll(io.LimitReader(f, blobstore.MaxFileSize+1))
		f.Close()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ValidationFailed, "cannot read uploaded file %s", fh.Filename)
		}
		if len(data) > blobstore.MaxFileSize {
			return nil, apperr.New(apperr.ValidationFailed, "%s: %v", fh.Filename, blobstore.ErrFileTooLarge)
		}
		ct := fh.Header.Get(echo.HeaderContentType)
		if !strings.HasPrefix(ct, "image/") {
			return nil, apperr.New(apperr.ValidationFailed, "%s is not an image", fh.Filename)
		}
		out = append(out, prediction.Image{Name: fh.Filename, ContentType: ct, Data: data})
	}
	return out, nil
}

func (h *Handler) PatientWithReports(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "patient")
	if err != nil {
		return err
	}
	out, err := h.svc.PatientWithReports(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	lp := ListParams{Sort: pg.Sort}
	if v := c.QueryParam("patient_id"); v != "" {
		if lp.PatientID, err = uuid.Parse(v); err != nil {
			return apperr.New(apperr.ValidationFailed, "invalid patient_id")
		}
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, lp, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	rep, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

// Image streams one stored eye image. blobId is the id part of a blob://
// reference on the report.
func (h *Handler) Image(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	rc, meta, err := h.svc.Image(c.Request().Context(), actor, id, c.Param("blobId"))
	if err != nil {
		return err
	}
	return blobstore.Serve(c, rc, meta)
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}
	rep, err := h.svc.Update(c.Request().Context(), actor, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Delete(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SubmitFeedback(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	var in FeedbackInput
	if err := c.Bind(&in); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}
	rep, err := h.svc.SubmitFeedback(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) MarkFeedbackRead(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c, "report")
	if err != nil {
		return err
	}
	n, err := h.svc.MarkFeedbackRead(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}
