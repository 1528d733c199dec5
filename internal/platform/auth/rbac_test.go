package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

func runRequireRole(t *testing.T, ident *Identity, roles ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if ident != nil {
		req = req.WithContext(WithIdentity(context.Background(), *ident))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return RequireRole(roles...)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestRequireRole(t *testing.T) {
	optician := &Identity{UserID: uuid.New(), Role: "optician"}
	admin := &Identity{UserID: uuid.New(), Role: "admin"}

	if err := runRequireRole(t, optician, "optician"); err != nil {
		t.Errorf("optician should pass: %v", err)
	}
	if err := runRequireRole(t, optician, "doctor", "optician"); err != nil {
		t.Errorf("any listed role should pass: %v", err)
	}

	err := runRequireRole(t, admin, "optician")
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Errorf("admin has no bypass, expected Forbidden, got %v", err)
	}

	err = runRequireRole(t, nil, "optician")
	if apperr.KindOf(err) != apperr.Unauthenticated {
		t.Errorf("expected Unauthenticated without identity, got %v", err)
	}
}
