package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Verdict is the shape the model answers with. Score checks a response
// decodes into it and carries a status, then stores the body as received,
// including a "rejected" status from the quality check.
type Verdict struct {
	Status   string    `json:"status"`
	Diseases []Disease `json:"diseases"`
	Report   string    `json:"report"`
}

type Disease struct {
	Name        string  `json:"name"`
	Probability float64 `json:"Probability"`
}

// HTTPScorer posts an eye's images to the model endpoint as multipart
// "image" parts with an "eye" form field.
type HTTPScorer struct {
	client *resty.Client
	url    string
}

// NewHTTPScorer makes a single attempt per call; retries would outlive the
// coordinator's per-eye deadline.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &HTTPScorer{client: client, url: url}
}

func (s *HTTPScorer) Score(ctx context.Context, eye Eye, images []Image) (json.RawMessage, error) {
	req := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"eye": string(eye)})
	for _, img := range images {
		name := img.Name
		if name == "" {
			name = string(eye) + ".jpg"
		}
		req.SetMultipartField("image", name, img.ContentType, bytes.NewReader(img.Data))
	}

	resp, err := req.Post(s.url)
	if err != nil {
		return nil, fmt.Errorf("call prediction service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("prediction service returned %d", resp.StatusCode())
	}

	body := resp.Body()
	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if v.Status == "" {
		return nil, fmt.Errorf("prediction has no status")
	}
	return json.RawMessage(body), nil
}
