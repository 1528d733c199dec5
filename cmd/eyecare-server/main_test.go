package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/eyecare/eyecare/internal/config"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/domain/report"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/internal/platform/cache"
	"github.com/eyecare/eyecare/internal/platform/metrics"
	"github.com/eyecare/eyecare/internal/platform/notification"
)

type testServer struct {
	e    *echo.Echo
	mail *notification.MockEmailSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	passwordCost = bcrypt.MinCost
	cfg := &config.Config{
		Env:               "test",
		StoreDriver:       config.StoreMemory,
		JWTExpiresIn:      time.Hour,
		CodeTTL:           10 * time.Minute,
		UserCacheTTL:      time.Minute,
		PredictionTimeout: time.Second,
		MaxUploadSize:     "20M",
		CORSOrigins:       []string{"http://localhost:3000"},
	}
	mail := &notification.MockEmailSender{}
	e := newServer(deps{
		cfg:     cfg,
		stores:  memoryStores(),
		kv:      cache.NewMemoryKV(),
		blobs:   blobstore.NewInMemoryBlobStore(),
		mail:    mail,
		scorer:  prediction.Disabled(),
		metrics: metrics.New(),
		logger:  zerolog.Nop(),
	})
	return &testServer{e: e, mail: mail}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// postReport sends a multipart createReport with one right eye image.
func (s *testServer) postReport(t *testing.T, path, token, data, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("data", data); err != nil {
		t.Fatal(err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="rightEyeImages"; filename=%q`, name))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// signupOptician runs signup and email verification and returns the token.
func (s *testServer) signupOptician(t *testing.T, email string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"first_name": "Olga", "last_name": "Optic", "email": email,
		"password": "secret1", "password_confirm": "secret1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	last, ok := s.mail.Last()
	if !ok {
		t.Fatal("no verification email sent")
	}
	code := codePattern.FindString(last.Body)

	rec = s.do(http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"email": email, "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil || sess.Token == "" {
		t.Fatalf("verify: no token in %s", rec.Body.String())
	}
	return sess.Token
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}

	rec = s.do(http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("memory store should not expose /health/db, got %d", rec.Code)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/patients", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = s.do(http.MethodGet, "/api/v1/patients", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestServer_PatientAndReportFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signupOptician(t, "olga@example.com")

	rec := s.do(http.MethodPost, "/api/v1/patients", token, map[string]any{
		"first_name": "Pat", "last_name": "Ient", "gender": "Other", "date_of_birth": "1970-01-31",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create patient: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p struct {
		ID uuid.UUID `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &p)

	rec = s.postReport(t, "/api/v1/patients/"+p.ID.String()+"/reports", token,
		`{"right_eye":{"visus_cc":"0.8"}}`, "r1.jpg", []byte("jpeg bytes"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create report: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep report.Report
	_ = json.Unmarshal(rec.Body.Bytes(), &rep)
	if string(rep.ModelResults.RightEye) != string(prediction.FailedPayload) {
		t.Errorf("expected failed prediction payload, got %s", rep.ModelResults.RightEye)
	}
	if rep.ModelResults.LeftEye != nil {
		t.Errorf("left eye was not examined, got %s", rep.ModelResults.LeftEye)
	}
	if rep.RightEye == nil || len(rep.RightEye.Images) != 1 {
		t.Fatalf("expected one stored right eye image, got %+v", rep.RightEye)
	}

	blobID, err := blobstore.IDFromRef(rep.RightEye.Images[0])
	if err != nil {
		t.Fatalf("bad image ref %q: %v", rep.RightEye.Images[0], err)
	}
	imagePath := "/api/v1/reports/" + rep.ID.String() + "/images/" + blobID
	rec = s.do(http.MethodGet, imagePath, token, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg bytes" {
		t.Errorf("expected the stored image, got %d: %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}

	rec = s.do(http.MethodGet, "/api/v1/patients/"+p.ID.String()+"/reports", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), rep.ID.String()) {
		t.Errorf("expected the report inlined, got %d: %s", rec.Code, rec.Body.String())
	}

	other := s.signupOptician(t, "other@example.com")
	rec = s.do(http.MethodGet, "/api/v1/reports/"+rep.ID.String(), other, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another optician, got %d", rec.Code)
	}
	rec = s.do(http.MethodGet, imagePath, other, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on the image for another optician, got %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/api/v1/datasets", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 on datasets for an optician, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health", "", nil)

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "eyecare_http_requests_total") {
		t.Error("expected eyecare_http_requests_total in exposition")
	}
}

func TestPrintFindings(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printFindings(cmd, &report.Findings{}, false)
	if !strings.Contains(out.String(), "consistent") {
		t.Errorf("unexpected output: %q", out.String())
	}

	out.Reset()
	link := report.Link{PatientID: uuid.New(), ReportID: uuid.New()}
	printFindings(cmd, &report.Findings{Missing: []report.Link{link}}, true)
	if !strings.Contains(out.String(), "missing   patient="+link.PatientID.String()) {
		t.Errorf("missing link not printed: %q", out.String())
	}
	if !strings.Contains(out.String(), "1 missing and 0 dangling link(s) repaired.") {
		t.Errorf("unexpected summary: %q", out.String())
	}
}
