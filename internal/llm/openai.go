package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

const (
	// DefaultOpenAIModel is the default OpenAI chat model.
	DefaultOpenAIModel = "gpt-4o-mini"

	// DefaultHuggingFaceRouterURL serves OpenAI-compatible chat completions
	// for Hugging Face hosted models.
	DefaultHuggingFaceRouterURL = "https://router.huggingface.co"
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
type OpenAIConfig struct {
	// Backend names the service in errors and logs (default: openai).
	Backend string

	APIKey  string
	BaseURL string
	Model   string

	// Retry bounds retries of each request. SDK retries are disabled.
	Retry backend.RetryPolicy

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIClient implements the LLM interface over the chat completions API.
type OpenAIClient struct {
	client  openai.Client
	backend string
	model   string
	retry   backend.RetryPolicy
	logger  *slog.Logger
}

// NewOpenAIClient creates a chat client for OpenAI or any compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	name := cfg.Backend
	if name == "" {
		name = "openai"
	}
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

	return &OpenAIClient{
		client:  openai.NewClient(clientOpts...),
		backend: name,
		model:   model,
		retry:   cfg.Retry,
		logger:  logger,
	}
}

// NewHuggingFaceClient creates a chat client for the Hugging Face router.
// routerURL defaults to DefaultHuggingFaceRouterURL.
func NewHuggingFaceClient(routerURL, apiKey, model string, retry backend.RetryPolicy, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	if routerURL == "" {
		routerURL = DefaultHuggingFaceRouterURL
	}
	return NewOpenAIClient(OpenAIConfig{
		Backend:    "huggingface",
		APIKey:     apiKey,
		BaseURL:    strings.TrimSuffix(routerURL, "/") + "/v1/",
		Model:      model,
		Retry:      retry,
		HTTPClient: httpClient,
		Logger:     logger,
	})
}

func (c *OpenAIClient) params(prompt string, opts GenerateOptions) openai.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(float64(opts.Temperature)),
	}
	// max_tokens is the field every compatible server understands.
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params
}

// Generate requests a single completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	params := c.params(prompt, opts)

	return backend.Retry(ctx, c.retry, c.logger, c.backend+".chat", func(ctx context.Context) (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", backend.FromOpenAI(c.backend, err)
		}
		if len(resp.Choices) == 0 {
			return "", backend.Malformed(c.backend, "no choices in completion", nil)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// openedStream is a stream whose first event has already been read, so that
// failures to open it can be retried.
type openedStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	first  *openai.ChatCompletionChunk
}

// GenerateStream streams a completion. Only opening the stream is retried.
func (c *OpenAIClient) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	params := c.params(prompt, opts)

	opened, err := backend.Retry(ctx, c.retry, c.logger, c.backend+".chat_stream", func(ctx context.Context) (openedStream, error) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		if stream.Next() {
			first := stream.Current()
			return openedStream{stream: stream, first: &first}, nil
		}
		if err := stream.Err(); err != nil {
			stream.Close()
			return openedStream{}, backend.FromOpenAI(c.backend, err)
		}
		return openedStream{stream: stream}, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer opened.stream.Close()

		if opened.first != nil && !send(ctx, chunks, StreamChunk{Token: deltaContent(*opened.first)}) {
			return
		}
		for opened.stream.Next() {
			token := deltaContent(opened.stream.Current())
			if token == "" {
				continue
			}
			if !send(ctx, chunks, StreamChunk{Token: token}) {
				return
			}
		}
		if err := opened.stream.Err(); err != nil {
			send(ctx, chunks, StreamChunk{Error: backend.FromOpenAI(c.backend, err), Done: true})
			return
		}
		send(ctx, chunks, StreamChunk{Done: true})
	}()

	return chunks, nil
}

func deltaContent(chunk openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

// Ensure OpenAIClient implements LLM interface.
var _ LLM = (*OpenAIClient)(nil)
