package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	g.GET("", h.List)
	g.GET("/archived", h.ListArchived)
	g.GET("/stats", h.ReportStats, auth.RequireRole(string(access.Doctor)))
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PUT("/:id/archive", h.ToggleArchive)

	optician := g.Group("", auth.RequireRole(string(access.Optician)))
	optician.POST("", h.Create)
	optician.POST("/:id/doctors", h.SendToDoctor)

	g.DELETE("/:id", h.Delete, auth.RequireRole(string(access.Admin)))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.ValidationFailed, "invalid patient id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) list(c echo.Context, archived bool) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, archived, ListParams{Keyword: pg.Keyword, Sort: pg.Sort}, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) List(c echo.Context) error {
	return h.list(c, false)
}

func (h *Handler) ListArchived(c echo.Context) error {
	return h.list(c, true)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), actor, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type sendRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

func (h *Handler) SendToDoctor(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.ValidationFailed, "doctor_id must be a valid id")
	}
	p, err := h.svc.SendToDoctor(c.Request().Context(), actor, id, req.DoctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ToggleArchive(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.ToggleArchive(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ReportStats(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	stats, err := h.svc.ReportStats(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": stats})
}
