package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

func securedServer(hsts bool) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	e.Use(SecurityHeaders(hsts))
	e.GET("/api/v1/patients", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{})
	})
	e.GET("/api/v1/reports/:id/images/:blobId", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "image/png", []byte{0x89, 'P', 'N', 'G'})
	})
	e.GET("/api/v1/reports/:id", func(c echo.Context) error {
		return apperr.New(apperr.NotFound, "report not found")
	})
	return e
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name   string
		hsts   bool
		path   string
		status int
	}{
		{"json", false, "/api/v1/patients", http.StatusOK},
		{"image", false, "/api/v1/reports/r1/images/b1", http.StatusOK},
		{"error", false, "/api/v1/reports/r1", http.StatusNotFound},
		{"production", true, "/api/v1/patients", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			securedServer(tt.hsts).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			for header, want := range map[string]string{
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "DENY",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":         "no-referrer",
				"Cache-Control":           "no-store",
			} {
				if got := rec.Header().Get(header); got != want {
					t.Errorf("%s: got %q, want %q", header, got, want)
				}
			}
			hsts := rec.Header().Get("Strict-Transport-Security")
			if tt.hsts && hsts == "" {
				t.Error("expected HSTS in production")
			}
			if !tt.hsts && hsts != "" {
				t.Errorf("unexpected HSTS header %q", hsts)
			}
		})
	}
}
