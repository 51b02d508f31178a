package ethical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dianvu/MayaProject/internal/llm"
)

// Label values the bundled safety classifier emits. The gate maps these onto
// policy outcomes; the classifier itself knows nothing about policy.
const (
	LabelSafe   = "Safe"
	LabelUnsafe = "Not Safe"
)

// Score is one classification result.
type Score struct {
	Label string
	// Confidence of the predicted label, in [0, 1].
	Confidence float64
}

// TextClassifier scores text for policy risk. Implementations wrap the
// external classifier service; tests substitute fakes.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (Score, error)
}

// HTTPConfig locates the classifier inference endpoint.
type HTTPConfig struct {
	// Endpoint is the scoring URL, e.g. the deployed EthicalEye service.
	Endpoint string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each scoring call.
	Timeout time.Duration
	// MaxInFlight bounds concurrent classifier calls; model inference is
	// compute-bound and oversubscribing it makes every call slower.
	MaxInFlight int
}

// HTTPClassifier calls a classifier inference endpoint over HTTP. Calls go
// through a bounded-concurrency gate; transient failures are tagged for the
// caller's retry layer.
type HTTPClassifier struct {
	cfg      HTTPConfig
	client   *http.Client
	inflight chan struct{}
}

// NewHTTPClassifier builds the classifier client.
func NewHTTPClassifier(cfg HTTPConfig) (*HTTPClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("NewHTTPClassifier: empty endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	return &HTTPClassifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		inflight: make(chan struct{}, cfg.MaxInFlight),
	}, nil
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify scores one text. The classifier never mutates shared state, so
// concurrent calls are safe up to the configured bound.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Score, error) {
	select {
	case c.inflight <- struct{}{}:
		defer func() { <-c.inflight }()
	case <-ctx.Done():
		return Score{}, ctx.Err()
	}

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Score{}, fmt.Errorf("Classify: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Score{}, fmt.Errorf("Classify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection and timeout failures are worth a retry.
		return Score{}, llm.MarkTransient(fmt.Errorf("Classify: calling classifier: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Score{}, llm.MarkTransient(fmt.Errorf("Classify: classifier returned %s", resp.Status))
	default:
		return Score{}, fmt.Errorf("Classify: classifier returned %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Score{}, llm.MarkTransient(fmt.Errorf("Classify: reading response: %w", err))
	}

	var out classifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Score{}, fmt.Errorf("Classify: decoding response %q: %w", string(raw), err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Score{}, fmt.Errorf("Classify: confidence %v outside [0,1]", out.Confidence)
	}
	return Score{Label: out.Label, Confidence: out.Confidence}, nil
}

var _ TextClassifier = (*HTTPClassifier)(nil)
