package prediction_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/platform/metrics"
)

type fakeScorer struct {
	mu    sync.Mutex
	calls map[prediction.Eye]int
	fail  map[prediction.Eye]error
	delay time.Duration
}

func (f *fakeScorer) Score(ctx context.Context, eye prediction.Eye, images []prediction.Image) (json.RawMessage, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[prediction.Eye]int{}
	}
	f.calls[eye]++
	err := f.fail[eye]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"status":"completed","eye":"` + string(eye) + `"}`), nil
}

func img(name string) prediction.Image {
	return prediction.Image{Name: name, ContentType: "image/jpeg", Data: []byte("jpeg")}
}

func TestScoreReport_BothEyes(t *testing.T) {
	f := &fakeScorer{}
	c := prediction.NewCoordinator(f, time.Second, nil, zerolog.Nop())

	res, err := c.ScoreReport(context.Background(), []prediction.Image{img("r.jpg")}, []prediction.Image{img("l.jpg")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed","eye":"right"}`, string(res.RightEye))
	assert.JSONEq(t, `{"status":"completed","eye":"left"}`, string(res.LeftEye))
	assert.Equal(t, 1, f.calls[prediction.RightEye])
	assert.Equal(t, 1, f.calls[prediction.LeftEye])
}

func TestScoreReport_SkipsEyeWithoutImages(t *testing.T) {
	f := &fakeScorer{}
	c := prediction.NewCoordinator(f, time.Second, nil, zerolog.Nop())

	res, err := c.ScoreReport(context.Background(), []prediction.Image{img("r.jpg")}, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.RightEye)
	assert.Nil(t, res.LeftEye)
	assert.Zero(t, f.calls[prediction.LeftEye])
}

func TestScoreReport_FailureIsPerEye(t *testing.T) {
	f := &fakeScorer{fail: map[prediction.Eye]error{prediction.RightEye: errors.New("boom")}}
	c := prediction.NewCoordinator(f, time.Second, nil, zerolog.Nop())

	res, err := c.ScoreReport(context.Background(), []prediction.Image{img("r.jpg")}, []prediction.Image{img("l.jpg")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Prediction failed"}`, string(res.RightEye))
	assert.JSONEq(t, `{"status":"completed","eye":"left"}`, string(res.LeftEye))
}

func TestScoreReport_TimeoutRecordsFailure(t *testing.T) {
	m := metrics.New()
	f := &fakeScorer{delay: time.Second}
	c := prediction.NewCoordinator(f, 20*time.Millisecond, m, zerolog.Nop())

	res, err := c.ScoreReport(context.Background(), []prediction.Image{img("r.jpg")}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(prediction.FailedPayload), string(res.RightEye))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionCalls.WithLabelValues("right", "timeout")))
}

func TestScoreReport_Disabled(t *testing.T) {
	c := prediction.NewCoordinator(nil, time.Second, nil, zerolog.Nop())

	res, err := c.ScoreReport(context.Background(), nil, []prediction.Image{img("l.jpg")})
	require.NoError(t, err)
	assert.Nil(t, res.RightEye)
	assert.JSONEq(t, `{"error":"Prediction failed"}`, string(res.LeftEye))
}

func TestScoreReport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := prediction.NewCoordinator(&fakeScorer{}, time.Second, nil, zerolog.Nop())

	_, err := c.ScoreReport(ctx, []prediction.Image{img("r.jpg")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPScorer_PostsMultipart(t *testing.T) {
	var (
		gotEye   string
		gotFiles []string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotEye = r.FormValue("eye")
		for _, fh := range r.MultipartForm.File["image"] {
			gotFiles = append(gotFiles, fh.Filename)
			f, err := fh.Open()
			if !assert.NoError(t, err) {
				return
			}
			b, _ := io.ReadAll(f)
			f.Close()
			gotBody = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(prediction.Verdict{
			Status:   "completed",
			Diseases: []prediction.Disease{{Name: "glaucoma", Probability: 0.12}},
			Report:   "Image analyzed successfully",
		})
	}))
	defer srv.Close()

	s := prediction.NewHTTPScorer(srv.URL, time.Second)
	out, err := s.Score(context.Background(), prediction.LeftEye, []prediction.Image{img("a.jpg"), img("b.jpg")})
	require.NoError(t, err)

	assert.Equal(t, "left", gotEye)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, gotFiles)
	assert.Equal(t, "jpeg", gotBody)

	var v prediction.Verdict
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Equal(t, "completed", v.Status)
	require.Len(t, v.Diseases, 1)
	assert.Equal(t, "glaucoma", v.Diseases[0].Name)
}

func TestHTTPScorer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := prediction.NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), prediction.RightEye, []prediction.Image{img("r.jpg")})
	assert.Error(t, err)
}

func TestHTTPScorer_RejectsMalformedVerdicts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"html", "<html>ok</html>"},
		{"array", `[{"status":"completed"}]`},
		{"no status", `{"diseases":[{"name":"amd","Probability":0.4}]}`},
		{"wrong types", `{"status":"completed","diseases":"none"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := prediction.NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), prediction.RightEye, []prediction.Image{img("r.jpg")})
			assert.Error(t, err)
		})
	}
}

func TestHTTPScorer_KeepsRejectedVerdictVerbatim(t *testing.T) {
	const body = `{"status":"rejected","diseases":[],"report":"image quality too low","extra":1}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	out, err := prediction.NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), prediction.RightEye, []prediction.Image{img("r.jpg")})
	require.NoError(t, err)
	assert.Equal(t, body, string(out))
}
