package patient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
)

// serve routes one request through the patient routes as actor.
func (e *env) serve(t *testing.T, actor access.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := echo.New()
	srv.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	api := srv.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), auth.Identity{UserID: actor.ID, Role: string(actor.Role)})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	patient.NewHandler(e.svc).RegisterRoutes(api)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	e := newEnv(t)

	rec := e.serve(t, e.optA, http.MethodPost, "/api/v1/patients",
		`{"first_name":"Ann","last_name":"Doe","gender":"Female","date_of_birth":"03/14/1980"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p patient.Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "1980-03-14", p.DateOfBirth.Format("2006-01-02"))

	rec = e.serve(t, e.optA, http.MethodGet, "/api/v1/patients/"+p.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.serve(t, e.optB, http.MethodGet, "/api/v1/patients/"+p.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.serve(t, e.optA, http.MethodGet, "/api/v1/patients/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RoleGates(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, e.optA, "Ann")

	tests := []struct {
		name   string
		actor  access.Actor
		method string
		path   string
		body   string
		want   int
	}{
		{"doctor cannot create", e.doc, http.MethodPost, "/api/v1/patients", `{"first_name":"A","last_name":"B","gender":"Male"}`, http.StatusForbidden},
		{"optician cannot delete", e.optA, http.MethodDelete, "/api/v1/patients/" + p.ID.String(), "", http.StatusForbidden},
		{"optician cannot read stats", e.optA, http.MethodGet, "/api/v1/patients/stats", "", http.StatusForbidden},
		{"admin cannot send", e.admin, http.MethodPost, "/api/v1/patients/" + p.ID.String() + "/doctors", `{"doctor_id":"` + e.doc.ID.String() + `"}`, http.StatusForbidden},
		{"invalid gender", e.optA, http.MethodPost, "/api/v1/patients", `{"first_name":"A","last_name":"B","gender":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.serve(t, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_ListSendAndStats(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, e.optA, "Ann")
	e.create(t, e.optA, "Bob")

	rec := e.serve(t, e.optA, http.MethodGet, "/api/v1/patients?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data    []patient.Patient `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Data, 1)
	assert.True(t, page.HasMore)

	rec = e.serve(t, e.optA, http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/doctors", `{"doctor_id":"`+e.doc.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.serve(t, e.doc, http.MethodGet, "/api/v1/patients/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Data []patient.ReportStat `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.Data, 1)
	assert.Equal(t, p.ID, stats.Data[0].PatientID)

	rec = e.serve(t, e.doc, http.MethodPut, "/api/v1/patients/"+p.ID.String()+"/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.serve(t, e.doc, http.MethodGet, "/api/v1/patients/archived", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
}

func TestHandler_Unauthenticated(t *testing.T) {
	e := newEnv(t)
	srv := echo.New()
	srv.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	patient.NewHandler(e.svc).RegisterRoutes(srv.Group("/api/v1"))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
