// Package pipeline drives one batch run: rerank every user of a baseline
// recommendation map and collect the reranked map.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/rerankeval/internal/evaluation"
	"github.com/knoguchi/rerankeval/internal/reranker"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what happens to a user whose reranking fails.
type FailurePolicy string

const (
	// FailBaseline keeps the user's baseline list.
	FailBaseline FailurePolicy = "baseline"
	// FailSkip leaves the user out of the reranked map, which evaluates as a miss.
	FailSkip FailurePolicy = "skip"
	// FailAbort stops the run with the error.
	FailAbort FailurePolicy = "abort"
)

// ParseFailurePolicy parses baseline, skip or abort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailBaseline, nil
	case FailBaseline, FailSkip, FailAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Stats summarizes a run.
type Stats struct {
	Users     int
	Reranked  int
	Fallbacks int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Output is the result of a run.
type Output struct {
	RunID    string
	Reranked evaluation.RecommendationMap
	Stats    Stats
}

// Pipeline reranks users with one strategy.
type Pipeline struct {
	reranker    reranker.Reranker
	policy      FailurePolicy
	concurrency int
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFailurePolicy sets the per-user failure policy (default FailBaseline).
func WithFailurePolicy(p FailurePolicy) Option {
	return func(pl *Pipeline) {
		pl.policy = p
	}
}

// WithConcurrency sets how many users are reranked in parallel (default 1).
func WithConcurrency(n int) Option {
	return func(pl *Pipeline) {
		pl.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pl *Pipeline) {
		pl.logger = logger
	}
}

// New creates a pipeline around r.
func New(r reranker.Reranker, opts ...Option) *Pipeline {
	p := &Pipeline{
		reranker:    r,
		policy:      FailBaseline,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

// Run reranks every user in baseline, in ascending user order. Per-user
// failures follow the failure policy; cancellation always stops the run.
func (p *Pipeline) Run(ctx context.Context, baseline evaluation.RecommendationMap) (*Output, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "reranker", p.reranker.Name())

	users := baseline.Users()
	logger.Info("rerank run started", "users", len(users), "concurrency", p.concurrency, "failure_policy", string(p.policy))

	var (
		mu       sync.Mutex
		reranked = make(evaluation.RecommendationMap, len(users))
		stats    = Stats{Users: len(users)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, user := range users {
		user := user
		if gctx.Err() != nil {
			break
		}
		candidates := baseline[user]

		g.Go(func() error {
			ranking, err := p.reranker.Rerank(gctx, user, candidates)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return p.handleFailure(logger, user, candidates, err, &mu, reranked, &stats)
			}

			mu.Lock()
			reranked[user] = ranking.Items
			stats.Reranked++
			if ranking.Fallback {
				stats.Fallbacks++
			}
			mu.Unlock()

			attrs := []any{"user_id", user, "candidates", len(candidates), "kept", len(ranking.Items), "fallback", ranking.Fallback}
			if len(ranking.Scores) > 0 {
				attrs = append(attrs, "top_score", ranking.Scores[0])
			}
			logger.Debug("user reranked", attrs...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	logger.Info("rerank run finished",
		"users", stats.Users,
		"reranked", stats.Reranked,
		"fallbacks", stats.Fallbacks,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)

	return &Output{RunID: runID, Reranked: reranked, Stats: stats}, nil
}

func (p *Pipeline) handleFailure(logger *slog.Logger, user int64, candidates []int64, err error, mu *sync.Mutex, reranked evaluation.RecommendationMap, stats *Stats) error {
	if p.policy == FailAbort {
		return fmt.Errorf("reranking user %d: %w", user, err)
	}

	mu.Lock()
	defer mu.Unlock()
	stats.Failed++

	switch p.policy {
	case FailSkip:
		stats.Skipped++
		logger.Warn("reranking failed, skipping user", "user_id", user, "error", err)
	default:
		kept := make([]int64, len(candidates))
		copy(kept, candidates)
		reranked[user] = kept
		logger.Warn("reranking failed, keeping baseline order", "user_id", user, "error", err)
	}
	return nil
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
