package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 2048

// Request describes a single POST to a backend.
type Request struct {
	// Backend names the service in errors and logs, e.g. "huggingface".
	Backend string

	URL         string
	ContentType string
	Body        []byte

	// BearerToken is sent as an Authorization header when non-empty.
	BearerToken string
}

// Do sends the request and returns the response body of a 2xx answer.
// Transport failures and non-2xx statuses become ConnectivityErrors.
func Do(ctx context.Context, client *http.Client, r Request) ([]byte, error) {
	resp, err := Open(ctx, client, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Backend: r.Backend, Err: fmt.Errorf("reading response: %w", err)}
	}
	return body, nil
}

// Open sends the request and returns the response of a 2xx answer with its
// body unread, for streaming. The caller closes the body.
func Open(ctx context.Context, client *http.Client, r Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if r.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Backend: r.Backend, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ConnectivityError{
			Backend:    r.Backend,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return resp, nil
}

// PostJSON marshals in, posts it, and decodes a 2xx answer into out.
// A body that does not decode into out is a MalformedResponseError.
func PostJSON(ctx context.Context, client *http.Client, backendName, url, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := Do(ctx, client, Request{
		Backend:     backendName,
		URL:         url,
		ContentType: "application/json",
		Body:        payload,
		BearerToken: token,
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return Malformed(backendName, "decoding response", err)
	}
	return nil
}
