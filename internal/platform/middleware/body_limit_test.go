package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"20MB", 20 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
	}

	for _, tt := range tests {
		if got := ParseLimit(tt.input); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, contentType, body string, chunked bool) (error, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	if chunked {
		req.ContentLength = -1
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := BodyLimit("16", "64")(func(c echo.Context) error {
		called = true
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	return err, called
}

func TestBodyLimit_AllowsSmallJSON(t *testing.T) {
	err, called := runBodyLimit(t, echo.MIMEApplicationJSON, `{"a":1}`, false)
	if err != nil || !called {
		t.Fatalf("expected pass-through, got err=%v called=%v", err, called)
	}
}

func TestBodyLimit_RejectsLargeJSONByContentLength(t *testing.T) {
	err, called := runBodyLimit(t, echo.MIMEApplicationJSON, strings.Repeat("a", 32), false)
	if called {
		t.Error("handler should not run")
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_RejectsLargeChunkedBodyOnRead(t *testing.T) {
	err, called := runBodyLimit(t, echo.MIMEApplicationJSON, strings.Repeat("a", 32), true)
	if !called {
		t.Fatal("handler should run for unknown content length")
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from read, got %v", err)
	}
}

func TestBodyLimit_MultipartUsesUploadLimit(t *testing.T) {
	err, called := runBodyLimit(t, echo.MIMEMultipartForm+"; boundary=x", strings.Repeat("a", 48), false)
	if err != nil || !called {
		t.Fatalf("expected multipart body within upload limit to pass, got %v", err)
	}
}
