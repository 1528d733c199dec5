// Package prediction runs the remote disease model over a report's eye
// images. Each eye is scored independently; a failing eye never fails the
// report it belongs to.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eyecare/eyecare/internal/platform/metrics"
)

type Eye string

const (
	RightEye Eye = "right"
	LeftEye  Eye = "left"
)

// Image is one uploaded eye image held in memory for scoring.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Scorer sends the images of one eye to the model and returns its JSON
// verdict unchanged.
type Scorer interface {
	Score(ctx context.Context, eye Eye, images []Image) (json.RawMessage, error)
}

// FailedPayload is stored in place of a verdict for an eye whose scoring
// failed.
var FailedPayload = json.RawMessage(`{"error":"Prediction failed"}`)

// ErrDisabled is returned by the scorer used when no model URL is configured.
var ErrDisabled = errors.New("prediction: no scorer configured")

type disabledScorer struct{}

func (disabledScorer) Score(context.Context, Eye, []Image) (json.RawMessage, error) {
	return nil, ErrDisabled
}

// Disabled returns a Scorer that always fails, so every scored eye records
// FailedPayload.
func Disabled() Scorer { return disabledScorer{} }

// Results holds the verdict per eye. A nil field means the eye had no
// images and was not scored.
type Results struct {
	RightEye json.RawMessage `json:"right_eye,omitempty"`
	LeftEye  json.RawMessage `json:"left_eye,omitempty"`
}

type Coordinator struct {
	scorer  Scorer
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewCoordinator bounds every eye's single attempt by timeout. m may be nil.
func NewCoordinator(scorer Scorer, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	if scorer == nil {
		scorer = Disabled()
	}
	return &Coordinator{scorer: scorer, timeout: timeout, metrics: m, logger: logger}
}

// ScoreReport scores both eyes concurrently. It never returns an error for
// a scorer failure; the failed eye carries FailedPayload instead. Only
// cancellation of ctx itself is reported.
func (c *Coordinator) ScoreReport(ctx context.Context, right, left []Image) (Results, error) {
	var res Results
	g, gctx := errgroup.WithContext(ctx)
	if len(right) > 0 {
		g.Go(func() error {
			res.RightEye = c.scoreEye(gctx, RightEye, right)
			return nil
		})
	}
	if len(left) > 0 {
		g.Go(func() error {
			res.LeftEye = c.scoreEye(gctx, LeftEye, left)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Results{}, err
	}
	return res, nil
}

func (c *Coordinator) scoreEye(ctx context.Context, eye Eye, images []Image) json.RawMessage {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := c.scorer.Score(ctx, eye, images)
	elapsed := time.Since(start)

	outcome := "ok"
	if err == nil && !json.Valid(payload) {
		err = errors.New("prediction: scorer returned invalid JSON")
	}
	if err != nil {
		outcome = "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.logger.Warn().Err(err).Str("eye", string(eye)).Int("images", len(images)).
			Dur("elapsed", elapsed).Msg("prediction failed")
		payload = FailedPayload
	}
	if c.metrics != nil {
		c.metrics.PredictionCalls.WithLabelValues(string(eye), outcome).Inc()
		c.metrics.PredictionDuration.WithLabelValues(string(eye)).Observe(elapsed.Seconds())
	}
	return payload
}
