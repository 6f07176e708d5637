// Package reranker reorders a user's baseline candidates with one of three
// interchangeable strategies: embedding similarity, a cross-encoder, or a
// generative model asked for a ranked id list.
//
// # Trade-offs
//
// The strategy is chosen once per run (see KindFor).
//
//   - Embedding: one batched embedding call per user; cheapest, order from cosine similarity
//   - Cross-encoder: one scoring call per user; the model reads profile and candidate together
//   - Generative: one completion per user; slowest, and free-text output may not parse,
//     in which case the baseline order is returned and marked as a fallback
//
// Every strategy filters candidates against the catalog first. A user whose
// filtered list is empty gets an empty ranking without any backend call.
package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/rerankeval/internal/crossencoder"
	"github.com/knoguchi/rerankeval/internal/embedder"
	"github.com/knoguchi/rerankeval/internal/llm"
	"github.com/knoguchi/rerankeval/internal/profile"
	"github.com/knoguchi/rerankeval/internal/rankparse"
	"github.com/knoguchi/rerankeval/internal/repository"
)

// DefaultHistoryLength is the number of recent interactions in a user profile.
const DefaultHistoryLength = 10

// Ranking is the reranked candidate list of one user.
type Ranking struct {
	// Items is a permutation of the filtered candidates.
	Items []int64

	// Scores holds the strategy score of each entry in Items, when the
	// strategy produces scores.
	Scores []float64

	// Fallback is set when the strategy could not rank and returned the
	// filtered baseline order instead.
	Fallback bool

	// Reason explains a fallback.
	Reason string
}

// Reranker defines the interface for re-ranking a user's candidates.
type Reranker interface {
	// Rerank returns the candidates that exist in the catalog, reordered.
	// Backend failures are returned as errors; the caller decides whether to
	// skip the user or abort.
	Rerank(ctx context.Context, userID int64, candidates []int64) (Ranking, error)

	// Name identifies the strategy and model in logs.
	Name() string
}

// Kind selects a strategy.
type Kind string

const (
	KindEmbedding    Kind = "embedding"
	KindCrossEncoder Kind = "cross-encoder"
	KindGenerative   Kind = "generative"
)

// KindFor maps a model type (generative or discriminative) and model source
// (huggingface, openai or ollama) to a strategy. Discriminative Hugging Face
// models are cross-encoders; other discriminative sources serve embeddings.
func KindFor(modelType, modelSource string) (Kind, error) {
	source := strings.ToLower(modelSource)
	switch source {
	case "huggingface", "openai", "ollama":
	default:
		return "", fmt.Errorf("unknown model source %q", modelSource)
	}

	switch strings.ToLower(modelType) {
	case "generative":
		return KindGenerative, nil
	case "discriminative":
		if source == "huggingface" {
			return KindCrossEncoder, nil
		}
		return KindEmbedding, nil
	default:
		return "", fmt.Errorf("unknown model type %q", modelType)
	}
}

// Config holds the per-run strategy settings.
type Config struct {
	IncludeTitle    bool
	IncludeCover    bool
	IncludeFrames   bool
	IncludeComments bool

	// ModelIdentifier names the backend model, for generation requests and logs.
	ModelIdentifier string

	// HistoryLength is the user profile window (default 10).
	HistoryLength int

	// Stream consumes generative completions incrementally.
	Stream bool

	// ParseMode controls validation of generated id lists.
	ParseMode rankparse.Mode

	// Temperature is the generation temperature.
	Temperature float32
}

// Channels returns the enabled evidence channels.
func (c Config) Channels() profile.Channel {
	return profile.Channels(c.IncludeTitle, c.IncludeCover, c.IncludeFrames, c.IncludeComments)
}

// Deps are the collaborators a strategy needs. Only the backend of the
// selected kind is required.
type Deps struct {
	Data     repository.Dataset
	Profiles *profile.Builder

	Embedder embedder.Embedder
	Scorer   crossencoder.Scorer
	LLM      llm.LLM

	Logger *slog.Logger
}

// New builds the strategy of the given kind.
func New(kind Kind, deps Deps, cfg Config) (Reranker, error) {
	if deps.Data == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("dataset and profile builder are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = DefaultHistoryLength
	}
	base := preamble{data: deps.Data, profiles: deps.Profiles, cfg: cfg, logger: deps.Logger}

	switch kind {
	case KindEmbedding:
		if deps.Embedder == nil {
			return nil, fmt.Errorf("%s reranker requires an embedder", kind)
		}
		return &EmbeddingReranker{preamble: base, embedder: deps.Embedder}, nil
	case KindCrossEncoder:
		if deps.Scorer == nil {
			return nil, fmt.Errorf("%s reranker requires a scorer", kind)
		}
		return &CrossEncoderReranker{preamble: base, scorer: deps.Scorer}, nil
	case KindGenerative:
		if deps.LLM == nil {
			return nil, fmt.Errorf("%s reranker requires an LLM client", kind)
		}
		return newGenerativeReranker(base, deps.LLM), nil
	default:
		return nil, fmt.Errorf("unknown reranker kind %q", kind)
	}
}

// preamble is the work shared by every strategy: filtering the candidates
// and building the user and candidate profiles.
type preamble struct {
	data     repository.Dataset
	profiles *profile.Builder
	cfg      Config
	logger   *slog.Logger
}

type prepared struct {
	user       string
	candidates []int64
	profiles   []string
}

// prepare returns ok=false when no candidate survives filtering.
func (p *preamble) prepare(ctx context.Context, userID int64, candidates []int64) (prepared, bool, error) {
	if !p.data.IsValidUser(userID) {
		return prepared{}, false, fmt.Errorf("user %d: %w", userID, repository.ErrUnknownUser)
	}

	filtered := profile.Filter(candidates, p.data)
	if len(filtered) == 0 {
		return prepared{}, false, nil
	}
	if dropped := len(candidates) - len(filtered); dropped > 0 {
		p.logger.Debug("dropped unknown candidates", "user_id", userID, "dropped", dropped)
	}

	channels := p.cfg.Channels()
	user, err := p.profiles.UserProfile(ctx, userID, p.cfg.HistoryLength, channels)
	if err != nil {
		return prepared{}, false, fmt.Errorf("building user profile: %w", err)
	}

	itemProfiles, err := p.profiles.BuildAll(ctx, filtered, channels, profile.Context{UserID: userID})
	if err != nil {
		return prepared{}, false, fmt.Errorf("building candidate profiles: %w", err)
	}

	return prepared{user: user, candidates: filtered, profiles: itemProfiles}, true, nil
}

// ranked reorders candidates by the given index permutation.
func ranked(candidates []int64, scores []float64, order []int) Ranking {
	r := Ranking{Items: make([]int64, len(order))}
	if scores != nil {
		r.Scores = make([]float64, len(order))
	}
	for i, idx := range order {
		r.Items[i] = candidates[idx]
		if scores != nil {
			r.Scores[i] = scores[idx]
		}
	}
	return r
}
