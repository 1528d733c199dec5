package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path string, ident *auth.Identity) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if ident != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *ident))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	return c
}

func TestAudit_RecordsPatientRead(t *testing.T) {
	rec := &mockRecorder{}
	userID := uuid.New()
	patientID := uuid.NewString()
	c := newTestContext(http.MethodGet, "/api/v1/patients/"+patientID, &auth.Identity{UserID: userID, Role: "doctor"})

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != userID.String() || entry.Role != "doctor" {
		t.Errorf("unexpected actor: %s/%s", entry.UserID, entry.Role)
	}
	if entry.Resource != "patients" || entry.RecordID != patientID {
		t.Errorf("unexpected target: %s/%s", entry.Resource, entry.RecordID)
	}
	if entry.Action != "read" || entry.StatusCode != http.StatusOK || entry.RequestID != "req-123" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestAudit_RecordsDeniedStatus(t *testing.T) {
	rec := &mockRecorder{}
	c := newTestContext(http.MethodDelete, "/api/v1/reports/abc", &auth.Identity{UserID: uuid.New(), Role: "optician"})

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return apperr.New(apperr.Forbidden, "not allowed")
	})(c)
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected forbidden to pass through, got %v", err)
	}
	entry := rec.last()
	if entry.Action != "delete" || entry.StatusCode != http.StatusForbidden {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestAudit_SkipsUnauditedPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/api/v1/auth/login", "/metrics"} {
		c := newTestContext(http.MethodPost, path, nil)
		_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error { return nil })(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("sink down")}
	c := newTestContext(http.MethodPost, "/api/v1/patients", &auth.Identity{UserID: uuid.New(), Role: "optician"})

	err := Audit(zerolog.Nop(), rec, nil)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.last(); got.Action != "create" || got.RecordID != "" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestSplitAPIPath(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/patients", "patients", ""},
		{"/api/v1/patients/p1/archive", "patients", "p1"},
		{"/api/v1/reports/r1/feedback", "reports", "r1"},
		{"/fhir/Patient", "", ""},
	}
	for _, tt := range tests {
		res, id := splitAPIPath(tt.path)
		if res != tt.resource || id != tt.id {
			t.Errorf("splitAPIPath(%q) = %q, %q", tt.path, res, id)
		}
	}
}
