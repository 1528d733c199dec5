package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

const publicAuthPrefix = "/api/v1/auth/"

// IsPublicPath reports whether path is reachable without a bearer token.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, publicAuthPrefix)
}

// AuthSkipper is the skip function passed to Authenticator.Middleware.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}
