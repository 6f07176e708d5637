// Package crossencoder scores candidate texts against a source text with a
// hosted sentence-similarity model.
package crossencoder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/knoguchi/rerankeval/internal/backend"
)

// DefaultBaseURL is the Hugging Face inference API.
const DefaultBaseURL = "https://api-inference.huggingface.co"

// Scorer scores each sentence against the source in one request. The raw
// score payload is returned undecoded so callers validate its shape.
type Scorer interface {
	Score(ctx context.Context, source string, sentences []string) (json.RawMessage, error)
}

// Config holds configuration for the Hugging Face scorer.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string

	Retry      backend.RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HuggingFace implements Scorer with the sentence-similarity task.
type HuggingFace struct {
	url    string
	apiKey string
	retry  backend.RetryPolicy
	client *http.Client
	logger *slog.Logger
}

type similarityInputs struct {
	SourceSentence string   `json:"source_sentence"`
	Sentences      []string `json:"sentences"`
}

type similarityRequest struct {
	Inputs similarityInputs `json:"inputs"`
}

// NewHuggingFace creates a scorer for the given model.
func NewHuggingFace(cfg Config) (*HuggingFace, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HuggingFace{
		url:    fmt.Sprintf("%s/models/%s", baseURL, cfg.Model),
		apiKey: cfg.APIKey,
		retry:  cfg.Retry,
		client: client,
		logger: logger,
	}, nil
}

// Score posts {"inputs": {"source_sentence", "sentences"}} and returns the
// response body, which must at least be valid JSON.
func (h *HuggingFace) Score(ctx context.Context, source string, sentences []string) (json.RawMessage, error) {
	req := similarityRequest{Inputs: similarityInputs{SourceSentence: source, Sentences: sentences}}

	return backend.Retry(ctx, h.retry, h.logger, "huggingface.sentence_similarity", func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		if err := backend.PostJSON(ctx, h.client, "huggingface", h.url, h.apiKey, req, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// Ensure HuggingFace implements Scorer interface.
var _ Scorer = (*HuggingFace)(nil)
