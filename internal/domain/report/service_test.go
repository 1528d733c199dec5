package report_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/domain/report"
	"github.com/eyecare/eyecare/internal/domain/user"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/internal/store/memory"
)

type scorer struct{ fail bool }

func (s scorer) Score(_ context.Context, eye prediction.Eye, _ []prediction.Image) (json.RawMessage, error) {
	if s.fail {
		return nil, errors.New("model unavailable")
	}
	return json.RawMessage(`{"status":"completed","eye":"` + string(eye) + `"}`), nil
}

type doctors map[uuid.UUID]bool

func (d doctors) IsActiveDoctor(_ context.Context, id uuid.UUID) (bool, error) { return d[id], nil }

type env struct {
	store    *memory.Store
	blobs    *blobstore.InMemoryBlobStore
	patients *patient.Service
	svc      *report.Service

	optA, optB, doc, doc2, admin access.Actor
	patient                      *patient.Patient
}

func newEnv(t *testing.T, failing bool) *env {
	t.Helper()
	e := &env{store: memory.New(), blobs: blobstore.NewInMemoryBlobStore()}
	dir := doctors{}
	mk := func(role access.Role, email string) access.Actor {
		u := &user.User{FirstName: "T", LastName: "User", Email: email, Role: role, Active: true}
		require.NoError(t, e.store.Users().Create(context.Background(), u))
		if role == access.Doctor {
			dir[u.ID] = true
		}
		return access.Actor{ID: u.ID, Role: role}
	}
	e.optA = mk(access.Optician, "a@example.com")
	e.optB = mk(access.Optician, "b@example.com")
	e.doc = mk(access.Doctor, "doc@example.com")
	e.doc2 = mk(access.Doctor, "doc2@example.com")
	e.admin = mk(access.Admin, "admin@example.com")

	coord := prediction.NewCoordinator(scorer{fail: failing}, time.Second, nil, zerolog.Nop())
	e.patients = patient.NewService(e.store.Patients(), dir, e.blobs, zerolog.Nop())
	e.svc = report.NewService(e.store.Reports(), e.store.Patients(), coord, e.blobs, zerolog.Nop())

	p, err := e.patients.Create(context.Background(), e.optA, patient.Input{FirstName: "Ann", LastName: "Doe", Gender: "Female"})
	require.NoError(t, err)
	e.patient = p
	return e
}

func rightOnly() report.Input {
	return report.Input{RightEye: &report.EyeExam{VisusCC: "0.8", Sphere: "-1.25"}}
}

func image(name string) prediction.Image {
	return prediction.Image{Name: name, ContentType: "image/jpeg", Data: []byte("jpeg " + name)}
}

func (e *env) createReport(t *testing.T) *report.Report {
	t.Helper()
	rep, err := e.svc.Create(context.Background(), e.optA, e.patient.ID, rightOnly(), report.Images{})
	require.NoError(t, err)
	return rep
}

func (e *env) send(t *testing.T, doc access.Actor) {
	t.Helper()
	_, err := e.patients.SendToDoctor(context.Background(), e.optA, e.patient.ID, doc.ID)
	require.NoError(t, err)
}

func kind(err error) apperr.Kind { return apperr.KindOf(err) }

func TestCreate_FailingScorerStillCreates(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	rep, err := e.svc.Create(ctx, e.optA, e.patient.ID, rightOnly(), report.Images{Right: []prediction.Image{image("r1.jpg")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Prediction failed"}`, string(rep.ModelResults.RightEye))
	assert.Nil(t, rep.ModelResults.LeftEye)
	assert.Nil(t, rep.LeftEye)

	p, err := e.store.Patients().GetByID(ctx, e.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{rep.ID}, p.ReportIDs)
}

func TestCreate_StoresImagesAndScores(t *testing.T) {
	e := newEnv(t, false)
	in := report.Input{
		RightEye: &report.EyeExam{VisusCC: "1.0"},
		LeftEye:  &report.EyeExam{VisusCC: "0.5"},
	}
	imgs := report.Images{
		Right: []prediction.Image{image("r1.jpg"), image("r2.jpg")},
		Left:  []prediction.Image{image("l1.jpg")},
	}

	rep, err := e.svc.Create(context.Background(), e.optA, e.patient.ID, in, imgs)
	require.NoError(t, err)
	assert.Len(t, rep.RightEye.Images, 2)
	assert.Len(t, rep.LeftEye.Images, 1)
	assert.Equal(t, 3, e.blobs.Len())
	assert.JSONEq(t, `{"status":"completed","eye":"right"}`, string(rep.ModelResults.RightEye))
	assert.JSONEq(t, `{"status":"completed","eye":"left"}`, string(rep.ModelResults.LeftEye))
}

func TestCreate_Rejections(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, e.optB, e.patient.ID, rightOnly(), report.Images{})
	assert.Equal(t, apperr.NotFound, kind(err))

	_, err = e.svc.Create(ctx, e.doc, e.patient.ID, rightOnly(), report.Images{})
	assert.Equal(t, apperr.Forbidden, kind(err))

	_, err = e.svc.Create(ctx, e.optA, e.patient.ID, report.Input{}, report.Images{})
	assert.Equal(t, apperr.ValidationFailed, kind(err))

	_, err = e.svc.Create(ctx, e.optA, e.patient.ID, report.Input{RightEye: &report.EyeExam{}}, report.Images{})
	assert.Equal(t, apperr.ValidationFailed, kind(err))

	_, err = e.svc.Create(ctx, e.optA, e.patient.ID, rightOnly(), report.Images{Left: []prediction.Image{image("l.jpg")}})
	assert.Equal(t, apperr.ValidationFailed, kind(err))

	_, err = e.svc.Create(ctx, e.optA, uuid.New(), rightOnly(), report.Images{})
	assert.Equal(t, apperr.NotFound, kind(err))
	assert.Equal(t, 0, e.blobs.Len())
}

func TestGet_Scope(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep := e.createReport(t)
	e.send(t, e.doc)

	_, err := e.svc.Get(ctx, e.optA, rep.ID)
	assert.NoError(t, err)
	_, err = e.svc.Get(ctx, e.admin, rep.ID)
	assert.NoError(t, err)
	_, err = e.svc.Get(ctx, e.doc, rep.ID)
	assert.NoError(t, err)

	_, err = e.svc.Get(ctx, e.optB, rep.ID)
	assert.Equal(t, apperr.NotFound, kind(err))
	_, err = e.svc.Get(ctx, e.doc2, rep.ID)
	assert.Equal(t, apperr.NotFound, kind(err))

	_, err = e.patients.ToggleArchive(ctx, e.doc, e.patient.ID)
	require.NoError(t, err)
	_, err = e.svc.Get(ctx, e.doc, rep.ID)
	assert.Equal(t, apperr.NotFound, kind(err))
}

func TestList_Scope(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep := e.createReport(t)
	e.send(t, e.doc)

	count := func(actor access.Actor) int {
		_, total, err := e.svc.List(ctx, actor, report.ListParams{}, 50, 0)
		require.NoError(t, err)
		return total
	}
	assert.Equal(t, 1, count(e.optA))
	assert.Equal(t, 0, count(e.optB))
	assert.Equal(t, 1, count(e.doc))
	assert.Equal(t, 0, count(e.doc2))
	assert.Equal(t, 1, count(e.admin))

	_, err := e.patients.ToggleArchive(ctx, e.doc, e.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count(e.doc))

	items, _, err := e.svc.List(ctx, e.optA, report.ListParams{PatientID: e.patient.ID}, 50, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, rep.ID, items[0].ID)
}

func TestUpdate_OwnerOnlyAndKeepsImages(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep, err := e.svc.Create(ctx, e.optA, e.patient.ID, rightOnly(), report.Images{Right: []prediction.Image{image("r.jpg")}})
	require.NoError(t, err)
	e.send(t, e.doc)

	patch := report.Patch{RightEye: &report.EyeExam{VisusCC: "1.0", Images: []string{"blob://forged"}}}
	got, err := e.svc.Update(ctx, e.optA, rep.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, "1.0", got.RightEye.VisusCC)
	assert.Equal(t, rep.RightEye.Images, got.RightEye.Images)

	_, err = e.svc.Update(ctx, e.doc, rep.ID, patch)
	assert.Equal(t, apperr.Forbidden, kind(err))
	_, err = e.svc.Update(ctx, e.admin, rep.ID, patch)
	assert.Equal(t, apperr.Forbidden, kind(err))
	_, err = e.svc.Update(ctx, e.optB, rep.ID, patch)
	assert.Equal(t, apperr.NotFound, kind(err))
}

func TestDelete_UnlinksAndRemovesImages(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep, err := e.svc.Create(ctx, e.optA, e.patient.ID, rightOnly(), report.Images{Right: []prediction.Image{image("r.jpg")}})
	require.NoError(t, err)
	other := e.createReport(t)
	e.send(t, e.doc)

	err = e.svc.Delete(ctx, e.doc, rep.ID)
	assert.Equal(t, apperr.Forbidden, kind(err))

	require.NoError(t, e.svc.Delete(ctx, e.optA, rep.ID))
	assert.Equal(t, 0, e.blobs.Len())
	p, err := e.store.Patients().GetByID(ctx, e.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other.ID}, p.ReportIDs)

	require.NoError(t, e.svc.Delete(ctx, e.admin, other.ID))
	_, err = e.svc.Get(ctx, e.admin, other.ID)
	assert.Equal(t, apperr.NotFound, kind(err))
}

func TestSubmitFeedback(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep := e.createReport(t)
	in := report.FeedbackInput{
		RightEye:  &report.EyeFeedback{AIPredictionCorrect: report.PredictionCorrect},
		Diagnosis: "early glaucoma",
	}

	_, err := e.svc.SubmitFeedback(ctx, e.doc, rep.ID, in)
	assert.Equal(t, apperr.Forbidden, kind(err), "unassigned doctor")

	e.send(t, e.doc)
	got, err := e.svc.SubmitFeedback(ctx, e.doc, rep.ID, in)
	require.NoError(t, err)
	require.Len(t, got.Feedback, 1)

	in.Diagnosis = "advanced glaucoma"
	_, err = e.svc.SubmitFeedback(ctx, e.doc, rep.ID, in)
	require.NoError(t, err)
	stored, err := e.store.Reports().GetByID(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, stored.Feedback, 1)
	assert.Equal(t, "advanced glaucoma", stored.Feedback[0].Diagnosis)

	e.send(t, e.doc2)
	_, err = e.svc.SubmitFeedback(ctx, e.doc2, rep.ID, in)
	require.NoError(t, err)
	stored, err = e.store.Reports().GetByID(ctx, rep.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Feedback, 2)

	_, err = e.patients.ToggleArchive(ctx, e.doc, e.patient.ID)
	require.NoError(t, err)
	_, err = e.svc.SubmitFeedback(ctx, e.doc, rep.ID, in)
	assert.NoError(t, err, "archived assignment keeps feedback rights")
}

func TestSubmitFeedback_Validation(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep := e.createReport(t)
	e.send(t, e.doc)

	_, err := e.svc.SubmitFeedback(ctx, e.doc, rep.ID, report.FeedbackInput{RightEye: &report.EyeFeedback{AIPredictionCorrect: "maybe"}})
	assert.Equal(t, apperr.ValidationFailed, kind(err))

	_, err = e.svc.SubmitFeedback(ctx, e.doc, rep.ID, report.FeedbackInput{LeftEye: &report.EyeFeedback{AIPredictionCorrect: report.PredictionUncertain}})
	assert.Equal(t, apperr.ValidationFailed, kind(err), "report has no left eye")

	_, err = e.svc.SubmitFeedback(ctx, e.optA, rep.ID, report.FeedbackInput{Diagnosis: "x"})
	assert.Equal(t, apperr.Forbidden, kind(err))
}

func TestMarkFeedbackRead(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	rep := e.createReport(t)
	e.send(t, e.doc)
	_, err := e.svc.SubmitFeedback(ctx, e.doc, rep.ID, report.FeedbackInput{Diagnosis: "healthy"})
	require.NoError(t, err)

	n, err := e.svc.MarkFeedbackRead(ctx, e.optA, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := e.svc.Get(ctx, e.optA, rep.ID)
	require.NoError(t, err)
	assert.True(t, got.Feedback[0].ReadByOptician)

	_, err = e.svc.SubmitFeedback(ctx, e.doc, rep.ID, report.FeedbackInput{Diagnosis: "revised"})
	require.NoError(t, err)
	got, err = e.svc.Get(ctx, e.optA, rep.ID)
	require.NoError(t, err)
	assert.False(t, got.Feedback[0].ReadByOptician, "resubmission resets the receipt")

	_, err = e.svc.MarkFeedbackRead(ctx, e.optB, rep.ID)
	assert.Equal(t, apperr.NotFound, kind(err))
}

func TestPatientWithReports_InFilingOrder(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	first := e.createReport(t)
	second := e.createReport(t)

	out, err := e.svc.PatientWithReports(ctx, e.optA, e.patient.ID)
	require.NoError(t, err)
	require.Len(t, out.Reports, 2)
	assert.Equal(t, first.ID, out.Reports[0].ID)
	assert.Equal(t, second.ID, out.Reports[1].ID)

	_, err = e.svc.PatientWithReports(ctx, e.optB, e.patient.ID)
	assert.Equal(t, apperr.NotFound, kind(err))

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"first_name":"Ann"`)
	assert.Contains(t, string(b), `"reports":[`)
}
