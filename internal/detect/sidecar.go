package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxSidecarResponse caps the body read from a sidecar.
const maxSidecarResponse = 4 << 20

// SidecarModel calls an HTTP NER service:
//
//	POST {base}/classify {"text": "...", "language": "fr"}
//	-> {"entities": [{"text": "Jean Dupont", "label": "PER", "score": 0.98}]}
//
// Services returning {"spans": [{"start","end","label","text"}]}
// are accepted too.
type SidecarModel struct {
	url      string
	language string
	client   *http.Client
}

// NewSidecarModel points at baseURL (e.g. "http://ner-fr:8001").
func NewSidecarModel(baseURL, language string, timeout time.Duration) *SidecarModel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SidecarModel{
		url:      strings.TrimRight(baseURL, "/") + "/classify",
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type sidecarRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type sidecarEntity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type sidecarResponse struct {
	Entities []sidecarEntity `json:"entities"`
	Spans    []sidecarEntity `json:"spans"`
}

// Predict implements Model. Transport failures are returned so the caller
// can record a detector failure.
func (m *SidecarModel) Predict(ctx context.Context, text string) ([]Prediction, error) {
	body, err := json.Marshal(sidecarRequest{Text: text, Language: m.language})
	if err != nil {
		return nil, fmt.Errorf("sidecar: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sidecar: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar: unexpected status %d", resp.StatusCode)
	}
	var result sidecarResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSidecarResponse)).Decode(&result); err != nil {
		return nil, fmt.Errorf("sidecar: decode: %w", err)
	}
	out := make([]Prediction, 0, len(result.Entities)+len(result.Spans))
	for _, e := range append(result.Entities, result.Spans...) {
		out = append(out, Prediction{Text: e.Text, Label: e.Label, Confidence: e.Score})
	}
	return out, nil
}

// ConcurrencySafe implements ConcurrencySafe; the HTTP client is.
func (m *SidecarModel) ConcurrencySafe() bool { return true }
