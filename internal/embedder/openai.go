package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// maxOpenAIBatch bounds the number of inputs sent in one request.
	maxOpenAIBatch = 256
)

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Retry bounds retries of each request. SDK retries are disabled.
	Retry backend.RetryPolicy

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIEmbedder implements the Embedder interface using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	retry     backend.RetryPolicy
	logger    *slog.Logger
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(clientOpts...),
		model:     model,
		dimension: GetModelConfig(model).Dimension,
		retry:     cfg.Retry,
		logger:    logger,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends the texts as array inputs and restores input order from
// the response indices.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("text at index %d cannot be empty", i)
		}
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := min(start+maxOpenAIBatch, len(texts))
		batch, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}

	return results, nil
}

func (e *OpenAIEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	return backend.Retry(ctx, e.retry, e.logger, "openai.embed", func(ctx context.Context) ([][]float32, error) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, backend.FromOpenAI("openai", err)
		}

		if len(resp.Data) != len(texts) {
			return nil, backend.Malformed("openai",
				fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
		}

		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			idx := int(d.Index)
			if idx < 0 || idx >= len(out) || out[idx] != nil {
				return nil, backend.Malformed("openai", fmt.Sprintf("unexpected embedding index %d", d.Index), nil)
			}
			if len(d.Embedding) == 0 {
				return nil, backend.Malformed("openai", fmt.Sprintf("empty embedding at index %d", idx), nil)
			}
			vec := make([]float32, len(d.Embedding))
			for i, v := range d.Embedding {
				vec[i] = float32(v)
			}
			out[idx] = vec
		}
		return out, nil
	})
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Ensure OpenAIEmbedder implements Embedder interface.
var _ Embedder = (*OpenAIEmbedder)(nil)
