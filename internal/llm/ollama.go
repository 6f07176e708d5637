package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/rerankeval/internal/backend"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultModel is the default LLM model to use.
	DefaultModel = "llama3.2"
)

// OllamaClient implements the LLM interface using the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	model      string
	retry      backend.RetryPolicy
	logger     *slog.Logger
}

// OllamaOption is a functional option for configuring OllamaClient.
type OllamaOption func(*OllamaClient)

// WithBaseURL sets a custom base URL for the Ollama API.
func WithBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		c.httpClient = client
	}
}

// WithModel sets the default model for the client.
func WithModel(model string) OllamaOption {
	return func(c *OllamaClient) {
		c.model = model
	}
}

// WithRetry bounds retries of the initial request.
func WithRetry(p backend.RetryPolicy) OllamaOption {
	return func(c *OllamaClient) {
		c.retry = p
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) OllamaOption {
	return func(c *OllamaClient) {
		c.logger = logger
	}
}

// NewOllamaClient creates a new Ollama LLM client with the given options.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: DefaultOllamaBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for generation
		},
		model:  DefaultModel,
		retry:  backend.NoRetry(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ollamaRequest represents the request body for Ollama's generate API.
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// ollamaResponse represents one response object from Ollama's generate API.
// Streaming answers are newline-delimited sequences of these.
type ollamaResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
}

// Generate sends a prompt to Ollama and returns the complete response.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req, err := c.buildRequest(prompt, opts, false)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	return backend.Retry(ctx, c.retry, c.logger, "ollama.generate", func(ctx context.Context) (string, error) {
		body, err := backend.Do(ctx, c.httpClient, req)
		if err != nil {
			return "", err
		}

		var result ollamaResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", backend.Malformed("ollama", "decoding response", err)
		}
		return result.Response, nil
	})
}

// GenerateStream sends a prompt to Ollama and returns a channel that streams response chunks.
// Only opening the stream is retried; a stream that breaks midway reports the error on the channel.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(prompt, opts, true)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	// The context bounds the stream, not the client timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := backend.Retry(ctx, c.retry, c.logger, "ollama.generate_stream", func(ctx context.Context) (*http.Response, error) {
		return backend.Open(ctx, streamClient, req)
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && !(err == io.EOF && len(bytes.TrimSpace(line)) > 0) {
				if err == io.EOF {
					return
				}
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = &backend.ConnectivityError{Backend: "ollama", Err: fmt.Errorf("reading stream: %w", err)}
				}
				send(ctx, chunks, StreamChunk{Error: err, Done: true})
				return
			}

			// Skip empty lines
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var streamResp ollamaResponse
			if err := json.Unmarshal(line, &streamResp); err != nil {
				send(ctx, chunks, StreamChunk{Error: backend.Malformed("ollama", "parsing stream response", err), Done: true})
				return
			}

			if !send(ctx, chunks, StreamChunk{Token: streamResp.Response, Done: streamResp.Done}) {
				return
			}

			if streamResp.Done {
				return
			}
		}
	}()

	return chunks, nil
}

// send delivers a chunk unless the context is cancelled first.
func send(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case chunks <- chunk:
		return true
	}
}

// buildRequest constructs the backend request for the Ollama API.
func (c *OllamaClient) buildRequest(prompt string, opts GenerateOptions, stream bool) (backend.Request, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	reqBody := ollamaRequest{
		Model:  model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Stream: stream,
		Options: map[string]any{
			"temperature": opts.Temperature,
		},
	}
	if opts.MaxTokens > 0 {
		reqBody.Options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return backend.Request{}, fmt.Errorf("marshaling request: %w", err)
	}

	return backend.Request{
		Backend:     "ollama",
		URL:         c.baseURL + "/api/generate",
		ContentType: "application/json",
		Body:        body,
	}, nil
}

// Ensure OllamaClient implements LLM interface.
var _ LLM = (*OllamaClient)(nil)
