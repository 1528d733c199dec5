package user

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/pkg/pagination"
)

type Handler struct {
	svc    *Service
	blobs  blobstore.BlobStore
	logger zerolog.Logger
}

func NewHandler(svc *Service, blobs blobstore.BlobStore, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, blobs: blobs, logger: logger}
}

// RegisterRoutes mounts the public account flows under /auth and the
// authenticated user routes under /users. limiter guards the public flows.
func (h *Handler) RegisterRoutes(api *echo.Group, limiter echo.MiddlewareFunc) {
	pub := api.Group("/auth", limiter)
	pub.POST("/signup", h.Signup)
	pub.POST("/verify-email", h.VerifyEmail)
	pub.POST("/login", h.Login)
	pub.POST("/forgot-password", h.ForgotPassword)
	pub.POST("/verify-reset-code", h.VerifyResetCode)
	pub.PUT("/reset-password", h.ResetPassword)

	users := api.Group("/users")
	users.GET("/me", h.GetMe)
	users.PUT("/me", h.UpdateMe)
	users.PUT("/me/password", h.ChangeMyPassword)
	users.GET("/me/photo", h.GetMyPhoto)
	users.PUT("/me/photo", h.UploadMyPhoto)
	users.DELETE("/me", h.DeactivateMe)

	directory := users.Group("", auth.RequireRole(string(access.Optician), string(access.Admin)))
	directory.GET("/doctors", h.ListDoctors)
	directory.GET("/doctors/:id", h.GetDoctor)

	admin := users.Group("", auth.RequireRole(string(access.Admin)))
	admin.GET("", h.ListUsers)
	admin.POST("", h.CreateUser)
	admin.GET("/opticians", h.ListOpticians)
	admin.GET("/:id", h.GetUser)
	admin.PUT("/:id", h.UpdateUser)
	admin.DELETE("/:id", h.DeleteUser)
	admin.PUT("/:id/password", h.SetPassword)
	admin.PUT("/:id/role", h.ChangeRole)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.New(apperr.ValidationFailed, "invalid request body")
	}
	return nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.ValidationFailed, "invalid id")
	}
	return id, nil
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type passwordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type roleRequest struct {
	Role      access.Role `json:"role"`
	Specialty *string     `json:"specialty"`
}

type message struct {
	Message string `json:"message"`
}

// -- Account flows --

func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Signup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "account created; check your email for the verification code",
		"data":    map[string]any{"id": u.ID, "email": u.Email},
	})
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.VerifyEmail(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message{"check your email for the reset code"})
}

func (h *Handler) VerifyResetCode(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.VerifyResetCode(c.Request().Context(), req.Email, req.Code); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message{"reset code verified"})
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req passwordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.ResetPassword(c.Request().Context(), req.Email, req.Password, req.PasswordConfirm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// -- Own account --

func (h *Handler) GetMe(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var p Profile
	if err := bind(c, &p); err != nil {
		return err
	}
	u, err := h.svc.UpdateMe(c.Request().Context(), actor, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ChangeMyPassword(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var req passwordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.ChangeMyPassword(c.Request().Context(), actor, req.CurrentPassword, req.Password, req.PasswordConfirm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// UploadMyPhoto stores the multipart "image" file and points the profile at
// it. The previous image is removed best effort.
func (h *Handler) UploadMyPhoto(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := access.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return apperr.New(apperr.ValidationFailed, "an image file is required")
	}
	meta, err := blobstore.UploadFile(ctx, h.blobs, fh, blobstore.CategoryProfileImage, actor.ID.String())
	if err != nil {
		return err
	}
	prev, err := h.svc.SetProfileImage(ctx, actor, meta.Ref())
	if err != nil {
		_ = blobstore.DeleteRefs(ctx, h.blobs, []string{meta.Ref()})
		return err
	}
	if prev != "" {
		if derr := blobstore.DeleteRefs(ctx, h.blobs, []string{prev}); derr != nil {
			h.logger.Warn().Err(derr).Str("ref", prev).Msg("remove previous profile image")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"profile_image": meta.Ref()})
}

func (h *Handler) GetMyPhoto(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := access.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(ctx, actor)
	if err != nil {
		return err
	}
	if u.ProfileImage == nil {
		return apperr.New(apperr.NotFound, "no profile image")
	}
	id, err := blobstore.IDFromRef(*u.ProfileImage)
	if err != nil {
		return apperr.New(apperr.NotFound, "no profile image")
	}
	rc, meta, err := blobstore.Open(ctx, h.blobs, id, []string{*u.ProfileImage})
	if err != nil {
		return err
	}
	return blobstore.Serve(c, rc, meta)
}

func (h *Handler) DeactivateMe(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateMe(c.Request().Context(), actor); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Directory --

func (h *Handler) ListDoctors(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), actor, pg.Keyword, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetDoctor(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListOpticians(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOpticians(c.Request().Context(), actor, pg.Keyword, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Administration --

func (h *Handler) ListUsers(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{Role: access.Role(c.QueryParam("role")), Keyword: pg.Keyword, Sort: pg.Sort}
	items, total, err := h.svc.ListUsers(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetUser(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) CreateUser(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.CreateUser(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd AdminUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), actor, id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetPassword(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req passwordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetPassword(c.Request().Context(), actor, id, req.Password, req.PasswordConfirm); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message{"password updated"})
}

func (h *Handler) ChangeRole(c echo.Context) error {
	actor, err := access.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.ChangeRole(c.Request().Context(), actor, id, req.Role, req.Specialty)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
