package crossencoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeHF(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/models/{owner}/{name}", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHuggingFace_Score(t *testing.T) {
	srv := newFakeHF(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sentence-transformers", chi.URLParam(r, "owner"))
		assert.Equal(t, "all-MiniLM-L6-v2", chi.URLParam(r, "name"))
		assert.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))

		var req similarityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Cats.\n", req.Inputs.SourceSentence)
		assert.Equal(t, []string{"Title: A\n", "Title: B\n"}, req.Inputs.Sentences)
		_, _ = w.Write([]byte(`[0.25, 0.75]`))
	})

	s, err := NewHuggingFace(Config{
		BaseURL:    srv.URL,
		Model:      "sentence-transformers/all-MiniLM-L6-v2",
		APIKey:     "hf-key",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	raw, err := s.Score(context.Background(), "Cats.\n", []string{"Title: A\n", "Title: B\n"})
	require.NoError(t, err)
	assert.JSONEq(t, `[0.25, 0.75]`, string(raw))
}

func TestHuggingFace_ErrorStatus(t *testing.T) {
	srv := newFakeHF(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"Model is loading"}`, http.StatusServiceUnavailable)
	})

	s, err := NewHuggingFace(Config{BaseURL: srv.URL, Model: "a/b", HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = s.Score(context.Background(), "x", []string{"y"})
	assert.True(t, backend.IsConnectivity(err))
	assert.True(t, backend.IsRetryable(err))
}

func TestHuggingFace_NotJSON(t *testing.T) {
	srv := newFakeHF(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	s, err := NewHuggingFace(Config{BaseURL: srv.URL, Model: "a/b", HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = s.Score(context.Background(), "x", []string{"y"})
	assert.True(t, backend.IsMalformed(err))
}

func TestNewHuggingFace_RequiresModel(t *testing.T) {
	_, err := NewHuggingFace(Config{})
	assert.Error(t, err)
}
