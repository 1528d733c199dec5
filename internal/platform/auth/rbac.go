package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// Authorize fails with Forbidden unless ident holds one of roles.
func Authorize(ident Identity, roles ...string) error {
	for _, r := range roles {
		if ident.Role == r {
			return nil
		}
	}
	return apperr.New(apperr.Forbidden, "you do not have permission to perform this action (requires %s)",
		strings.Join(roles, " or "))
}

// RequireRole gates a route group on the caller's role. There is no
// superuser bypass: admins are listed explicitly where allowed.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.New(apperr.Unauthenticated, "you are not logged in")
			}
			if err := Authorize(ident, roles...); err != nil {
				return err
			}
			return next(c)
		}
	}
}
