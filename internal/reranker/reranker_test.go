package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/knoguchi/rerankeval/internal/dataset"
	"github.com/knoguchi/rerankeval/internal/llm"
	"github.com/knoguchi/rerankeval/internal/profile"
	"github.com/knoguchi/rerankeval/internal/rankparse"
	"github.com/knoguchi/rerankeval/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() *dataset.Dataset {
	return dataset.New(&repository.Tables{
		Interactions: []repository.Interaction{
			{UserID: 1, ItemID: 1, Timestamp: 1},
			{UserID: 1, ItemID: 2, Timestamp: 2},
			{UserID: 1, ItemID: 3, Timestamp: 3},
			{UserID: 1, ItemID: 4, Timestamp: 4},
			{UserID: 2, ItemID: 10, Timestamp: 1},
			{UserID: 2, ItemID: 20, Timestamp: 2},
			{UserID: 2, ItemID: 30, Timestamp: 3},
		},
		Items: []repository.Item{
			{ID: 1, Title: "cats"},
			{ID: 2, Title: "more cats"},
			{ID: 10, Title: "dogs"},
			{ID: 20, Title: "cats again"},
			{ID: 30, Title: "birds"},
		},
	})
}

func testDeps(data *dataset.Dataset) Deps {
	return Deps{Data: data, Profiles: profile.NewBuilder(data)}
}

func titleOnly() Config {
	return Config{IncludeTitle: true, ModelIdentifier: "test-model"}
}

// keywordEmbedder maps each text to a vector of keyword counts.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls [][]string
}

var keywords = []string{"cats", "dogs", "birds"}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(keywords))
		for k, w := range keywords {
			v[k] = float32(strings.Count(t, w))
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int    { return len(keywords) }
func (e *keywordEmbedder) ModelName() string { return "keywords" }

func TestKindFor(t *testing.T) {
	tests := []struct {
		modelType, source string
		want              Kind
		wantErr           bool
	}{
		{"discriminative", "huggingface", KindCrossEncoder, false},
		{"discriminative", "openai", KindEmbedding, false},
		{"discriminative", "ollama", KindEmbedding, false},
		{"generative", "huggingface", KindGenerative, false},
		{"Generative", "OpenAI", KindGenerative, false},
		{"generative", "ollama", KindGenerative, false},
		{"regression", "openai", "", true},
		{"generative", "local", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.modelType+"/"+tt.source, func(t *testing.T) {
			got, err := KindFor(tt.modelType, tt.source)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_RequiresBackend(t *testing.T) {
	deps := testDeps(testData())
	for _, kind := range []Kind{KindEmbedding, KindCrossEncoder, KindGenerative} {
		_, err := New(kind, deps, titleOnly())
		assert.Error(t, err, kind)
	}
	_, err := New("magic", deps, titleOnly())
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, -1.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, -1.0, Cosine(nil, []float32{1}))
	assert.Equal(t, -1.0, Cosine([]float32{1}, []float32{1, 2}))
}

func TestEmbeddingReranker(t *testing.T) {
	emb := &keywordEmbedder{}
	deps := testDeps(testData())
	deps.Embedder = emb
	r, err := New(KindEmbedding, deps, titleOnly())
	require.NoError(t, err)
	assert.Equal(t, "embedding/keywords", r.Name())

	// User 1 history (skipping 4 and 3) is "more cats", "cats".
	got, err := r.Rerank(context.Background(), 1, []int64{10, 99, 30, 20})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10, 30}, got.Items, "cats first, then ties in original order")
	require.Len(t, got.Scores, 3)
	assert.InDelta(t, 1.0, got.Scores[0], 1e-9)
	assert.InDelta(t, 0.0, got.Scores[1], 1e-9)
	assert.False(t, got.Fallback)

	require.Len(t, emb.calls, 1, "one batched call per user")
	assert.Len(t, emb.calls[0], 4)
}

func TestEmbeddingReranker_EmptyProfileIsNotSent(t *testing.T) {
	emb := &keywordEmbedder{}
	deps := testDeps(testData())
	deps.Embedder = emb
	r, err := New(KindEmbedding, deps, titleOnly())
	require.NoError(t, err)

	// User 2's history window is only item 10. Item 4 has no title, so its
	// profile is empty.
	got, err := r.Rerank(context.Background(), 2, []int64{4, 20})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 4}, got.Items)
	assert.Equal(t, -1.0, got.Scores[1])
	require.Len(t, emb.calls, 1)
	assert.NotContains(t, emb.calls[0], "")
}

func TestReranker_EmptyAfterFilterSkipsBackend(t *testing.T) {
	emb := &keywordEmbedder{}
	deps := testDeps(testData())
	deps.Embedder = emb
	r, err := New(KindEmbedding, deps, titleOnly())
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), 1, []int64{98, 99})
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Empty(t, emb.calls)
}

type fakeScorer struct {
	raw    string
	err    error
	source string
	sents  []string
}

func (s *fakeScorer) Score(_ context.Context, source string, sentences []string) (json.RawMessage, error) {
	s.source, s.sents = source, sentences
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.raw), nil
}

func TestCrossEncoderReranker(t *testing.T) {
	scorer := &fakeScorer{raw: `[0.1, 0.9, 0.5]`}
	deps := testDeps(testData())
	deps.Scorer = scorer
	r, err := New(KindCrossEncoder, deps, titleOnly())
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), 1, []int64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30, 10}, got.Items)
	assert.Equal(t, []float64{0.9, 0.5, 0.1}, got.Scores)

	assert.Equal(t, "more cats.\ncats.\n", scorer.source)
	assert.Equal(t, []string{"Title: dogs\n", "Title: cats again\n", "Title: birds\n"}, scorer.sents)
}

func TestCrossEncoderReranker_Malformed(t *testing.T) {
	for _, raw := range []string{`[0.1, 0.9]`, `[0.1, "x", 0.3]`, `{"error": "x"}`} {
		deps := testDeps(testData())
		deps.Scorer = &fakeScorer{raw: raw}
		r, err := New(KindCrossEncoder, deps, titleOnly())
		require.NoError(t, err)

		_, err = r.Rerank(context.Background(), 1, []int64{10, 20, 30})
		assert.True(t, backend.IsMalformed(err), raw)
		assert.ErrorIs(t, err, rankparse.ErrMalformedScores)
	}
}

func TestCrossEncoderReranker_ConnectivityPropagates(t *testing.T) {
	deps := testDeps(testData())
	deps.Scorer = &fakeScorer{err: &backend.ConnectivityError{Backend: "huggingface", StatusCode: 500}}
	r, err := New(KindCrossEncoder, deps, titleOnly())
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), 1, []int64{10})
	assert.True(t, backend.IsConnectivity(err))
}

type fakeLLM struct {
	response string
	err      error
	prompts  []string
	opts     []llm.GenerateOptions
	streamed bool
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	return f.response, f.err
}

func (f *fakeLLM) GenerateStream(_ context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	f.streamed = true
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk, len(f.response)+1)
	for _, r := range f.response {
		ch <- llm.StreamChunk{Token: string(r)}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestGenerativeReranker(t *testing.T) {
	fake := &fakeLLM{response: "Sure! 30, 10, 20"}
	deps := testDeps(testData())
	deps.LLM = fake
	cfg := titleOnly()
	cfg.Stream = true
	r, err := New(KindGenerative, deps, cfg)
	require.NoError(t, err)
	assert.Equal(t, "generative/test-model", r.Name())

	got, err := r.Rerank(context.Background(), 1, []int64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, got.Items)
	assert.False(t, got.Fallback)
	assert.True(t, fake.streamed)

	require.Len(t, fake.prompts, 1)
	prompt := fake.prompts[0]
	assert.Contains(t, prompt, "more cats.\ncats.\n")
	assert.Contains(t, prompt, "[Item 20]\nTitle: cats again\n")
	assert.Contains(t, prompt, "Candidate ids: 10, 20, 30")
	assert.Equal(t, "test-model", fake.opts[0].Model)
}

func TestGenerativeReranker_UnparsableFallsBack(t *testing.T) {
	fake := &fakeLLM{response: "I am unable to rank these videos."}
	deps := testDeps(testData())
	deps.LLM = fake
	r, err := New(KindGenerative, deps, titleOnly())
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), 1, []int64{10, 99, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, got.Items, "filtered baseline order")
	assert.True(t, got.Fallback)
	assert.NotEmpty(t, got.Reason)
	assert.False(t, fake.streamed)
}

func TestGenerativeReranker_NotAPermutation(t *testing.T) {
	fake := &fakeLLM{response: "30, 10"}
	deps := testDeps(testData())
	deps.LLM = fake

	strict, err := New(KindGenerative, deps, titleOnly())
	require.NoError(t, err)
	got, err := strict.Rerank(context.Background(), 1, []int64{10, 20, 30})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.Equal(t, []int64{10, 20, 30}, got.Items)

	cfg := titleOnly()
	cfg.ParseMode = rankparse.ModeRepair
	repair, err := New(KindGenerative, deps, cfg)
	require.NoError(t, err)
	got, err = repair.Rerank(context.Background(), 1, []int64{10, 20, 30})
	require.NoError(t, err)
	assert.False(t, got.Fallback)
	assert.Equal(t, []int64{30, 10, 20}, got.Items)
}

func TestGenerativeReranker_BackendErrorPropagates(t *testing.T) {
	deps := testDeps(testData())
	deps.LLM = &fakeLLM{err: &backend.ConnectivityError{Backend: "openai", Err: errors.New("connection refused")}}
	r, err := New(KindGenerative, deps, titleOnly())
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), 1, []int64{10, 20})
	assert.True(t, backend.IsConnectivity(err))
}

func TestReranker_UnknownUser(t *testing.T) {
	deps := testDeps(testData())
	deps.LLM = &fakeLLM{response: "10"}
	r, err := New(KindGenerative, deps, titleOnly())
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), 77, []int64{10})
	assert.ErrorIs(t, err, repository.ErrUnknownUser)

	_, err = r.Rerank(context.Background(), 77, []int64{99})
	assert.ErrorIs(t, err, repository.ErrUnknownUser, "checked before filtering")
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "short", truncateForLog("short"))

	ascii := strings.Repeat("a", 250)
	assert.Equal(t, strings.Repeat("a", 200)+"...", truncateForLog(ascii))

	// Byte 200 falls inside a three-byte rune.
	mixed := "a" + strings.Repeat("日", 100)
	got := truncateForLog(mixed)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("日", 66)+"...", got)
}
