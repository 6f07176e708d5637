package reranker

import (
	"context"
	"fmt"
	"math"

	"github.com/knoguchi/rerankeval/internal/embedder"
	"github.com/knoguchi/rerankeval/internal/rankparse"
)

// minSimilarity is the score of a candidate whose vector has zero norm.
const minSimilarity = -1.0

// EmbeddingReranker orders candidates by cosine similarity between the user
// profile embedding and each candidate profile embedding.
type EmbeddingReranker struct {
	preamble
	embedder embedder.Embedder
}

// Name identifies the strategy and model.
func (r *EmbeddingReranker) Name() string {
	return fmt.Sprintf("%s/%s", KindEmbedding, r.embedder.ModelName())
}

// Rerank embeds the user profile and all candidate profiles in one batch.
// Empty profiles are not sent and score minSimilarity.
func (r *EmbeddingReranker) Rerank(ctx context.Context, userID int64, candidates []int64) (Ranking, error) {
	p, ok, err := r.prepare(ctx, userID, candidates)
	if err != nil {
		return Ranking{}, err
	}
	if !ok {
		return Ranking{Items: []int64{}}, nil
	}

	texts := append([]string{p.user}, p.profiles...)
	vectors, err := r.embedNonEmpty(ctx, texts)
	if err != nil {
		return Ranking{}, fmt.Errorf("embedding profiles: %w", err)
	}

	userVec := vectors[0]
	scores := make([]float64, len(p.candidates))
	for i := range p.candidates {
		scores[i] = Cosine(userVec, vectors[i+1])
	}

	return ranked(p.candidates, scores, rankparse.Order(scores)), nil
}

// embedNonEmpty embeds texts, leaving nil vectors for empty ones.
func (r *EmbeddingReranker) embedNonEmpty(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var batch []string
	var positions []int
	for i, t := range texts {
		if t == "" {
			continue
		}
		batch = append(batch, t)
		positions = append(positions, i)
	}
	if len(batch) == 0 {
		return out, nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}
	for j, pos := range positions {
		out[pos] = vectors[j]
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or -1 when either vector
// has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return minSimilarity
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return minSimilarity
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Ensure EmbeddingReranker implements Reranker interface.
var _ Reranker = (*EmbeddingReranker)(nil)
