package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig is the explicitly constructed client configuration; there is
// no ambient global client.
type GeminiConfig struct {
	// APIKey may be empty when Application Default Credentials are in use.
	APIKey string
	// Model names the Gemini model, e.g. "gemini-2.5-flash".
	Model string
	// Temperature 0 keeps report wording stable between retries.
	Temperature float32
}

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini is the TextGenerator backed by the Gemini completion API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini creates a Gemini generator from explicit configuration.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Generate sends the prompt and returns the raw completion text. Service
// failures are classified so the retry layer can tell throttling from bad
// credentials.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	temp := g.cfg.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temp}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return "", classifyGenaiError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		// Empty completions happen under load; retry rather than fail the run.
		return "", MarkTransient(fmt.Errorf("gemini: empty response from model"))
	}
	return text, nil
}

// classifyGenaiError splits service errors into transient (rate limit, 5xx,
// timeout) and permanent (auth, bad request) failures.
func classifyGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code >= 500:
			return MarkTransient(fmt.Errorf("gemini: %w", err))
		default:
			return fmt.Errorf("gemini: %w", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MarkTransient(fmt.Errorf("gemini: %w", err))
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}

var _ TextGenerator = (*Gemini)(nil)
