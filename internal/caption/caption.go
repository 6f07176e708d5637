// Package caption turns cover and frame images into text through an
// image-to-text model.
package caption

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knoguchi/rerankeval/internal/backend"
)

const (
	// DefaultBaseURL is the Hugging Face inference API.
	DefaultBaseURL = "https://api-inference.huggingface.co"

	// DefaultModel is the default image captioning model.
	DefaultModel = "Salesforce/blip-image-captioning-large"

	backendName = "huggingface"
)

// Captioner describes an image with a single caption.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// HuggingFaceConfig holds configuration for the Hugging Face captioner.
type HuggingFaceConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Retry      backend.RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HuggingFace implements Captioner with the inference API image-to-text task.
type HuggingFace struct {
	url    string
	apiKey string
	retry  backend.RetryPolicy
	client *http.Client
	logger *slog.Logger
}

type captionResponse []struct {
	GeneratedText string `json:"generated_text"`
}

// NewHuggingFace creates a captioner. Zero-valued fields fall back to defaults.
func NewHuggingFace(cfg HuggingFaceConfig) *HuggingFace {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HuggingFace{
		url:    fmt.Sprintf("%s/models/%s", baseURL, model),
		apiKey: cfg.APIKey,
		retry:  cfg.Retry,
		client: client,
		logger: logger,
	}
}

// Caption posts the raw image bytes and returns the first generated text.
func (h *HuggingFace) Caption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}

	return backend.Retry(ctx, h.retry, h.logger, "caption", func(ctx context.Context) (string, error) {
		body, err := backend.Do(ctx, h.client, backend.Request{
			Backend:     backendName,
			URL:         h.url,
			ContentType: "application/octet-stream",
			Body:        image,
			BearerToken: h.apiKey,
		})
		if err != nil {
			return "", err
		}
		return parseCaption(body)
	})
}

func parseCaption(body []byte) (string, error) {
	var resp captionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", backend.Malformed(backendName, "decoding caption", err)
	}
	if len(resp) == 0 || strings.TrimSpace(resp[0].GeneratedText) == "" {
		return "", backend.Malformed(backendName, "missing generated_text", nil)
	}
	return strings.TrimSpace(resp[0].GeneratedText), nil
}

// FileCaptioner reads image files and captions them, memoizing by path.
// Captions are a pure function of the file, so the cache lives for the run.
type FileCaptioner struct {
	captioner Captioner

	mu    sync.RWMutex
	cache map[string]string
}

// NewFileCaptioner wraps a Captioner with file reading and a per-path cache.
func NewFileCaptioner(c Captioner) *FileCaptioner {
	return &FileCaptioner{
		captioner: c,
		cache:     make(map[string]string),
	}
}

// CaptionFile returns the caption for the image at path.
func (f *FileCaptioner) CaptionFile(ctx context.Context, path string) (string, error) {
	f.mu.RLock()
	text, ok := f.cache[path]
	f.mu.RUnlock()
	if ok {
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	text, err = f.captioner.Caption(ctx, data)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[path] = text
	f.mu.Unlock()

	return text, nil
}

// Ensure HuggingFace implements Captioner.
var _ Captioner = (*HuggingFace)(nil)
