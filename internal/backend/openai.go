package backend

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
)

// FromOpenAI maps an openai-go client error onto the backend taxonomy.
// API errors keep their status code; anything else is a transport failure.
// Context cancellation is returned unchanged. backendName distinguishes
// OpenAI-compatible endpoints such as the Hugging Face router.
func FromOpenAI(backendName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ConnectivityError{
			Backend:    backendName,
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	return &ConnectivityError{Backend: backendName, Err: err}
}
