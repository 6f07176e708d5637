package reranker

import (
	"context"
	"fmt"

	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/knoguchi/rerankeval/internal/crossencoder"
	"github.com/knoguchi/rerankeval/internal/rankparse"
)

// CrossEncoderReranker scores all candidate profiles against the user
// profile in a single request.
type CrossEncoderReranker struct {
	preamble
	scorer crossencoder.Scorer
}

// Name identifies the strategy and model.
func (r *CrossEncoderReranker) Name() string {
	return fmt.Sprintf("%s/%s", KindCrossEncoder, r.cfg.ModelIdentifier)
}

// Rerank fails with a MalformedResponseError when the backend does not return
// exactly one number per candidate.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, userID int64, candidates []int64) (Ranking, error) {
	p, ok, err := r.prepare(ctx, userID, candidates)
	if err != nil {
		return Ranking{}, err
	}
	if !ok {
		return Ranking{Items: []int64{}}, nil
	}

	raw, err := r.scorer.Score(ctx, p.user, p.profiles)
	if err != nil {
		return Ranking{}, fmt.Errorf("scoring candidates: %w", err)
	}

	order, scores, err := rankparse.Scores(raw, len(p.candidates))
	if err != nil {
		return Ranking{}, backend.Malformed("cross-encoder", "unexpected score array", err)
	}

	return ranked(p.candidates, scores, order), nil
}

// Ensure CrossEncoderReranker implements Reranker interface.
var _ Reranker = (*CrossEncoderReranker)(nil)
