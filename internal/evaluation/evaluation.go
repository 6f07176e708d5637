// Package evaluation measures top-N hit rate of recommendation lists against
// each user's held-out ground-truth item, and the relative improvement of a
// reranked map over a baseline.
package evaluation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/knoguchi/rerankeval/internal/profile"
	"github.com/knoguchi/rerankeval/internal/repository"
)

// GroundTruth is the part of the dataset the engine reads.
type GroundTruth interface {
	repository.Catalog
	TrueItem(userID int64) (int64, error)
}

// Result is the comparison at one N.
type Result struct {
	N           int
	Baseline    float64
	New         float64
	Improvement float64
}

// Engine computes hit rates.
type Engine struct {
	data   GroundTruth
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger uses slog.Default.
func NewEngine(data GroundTruth, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{data: data, logger: logger}
}

// HitRate returns the fraction of users whose first n valid candidates contain
// their ground-truth item. lists[i] belongs to users[i]. Truncation is by item
// count within each list. Every user counts in the denominator, including
// users with no valid candidates or no ground truth. An empty user set
// yields NaN.
func (e *Engine) HitRate(users []int64, lists [][]int64, n int) (float64, error) {
	if len(users) != len(lists) {
		return 0, fmt.Errorf("got %d users and %d lists", len(users), len(lists))
	}
	if n <= 0 {
		return 0, fmt.Errorf("n must be positive, got %d", n)
	}
	if len(users) == 0 {
		return math.NaN(), nil
	}

	hits := 0
	for i, user := range users {
		items := profile.Filter(lists[i], e.data)
		if len(items) == 0 {
			continue
		}
		if len(items) > n {
			items = items[:n]
		}

		truth, err := e.data.TrueItem(user)
		if err != nil {
			if !errors.Is(err, repository.ErrNoInteractions) {
				return 0, err
			}
			e.logger.Debug("user without ground truth counts as a miss", "user_id", user)
			continue
		}

		for _, it := range items {
			if it == truth {
				hits++
				break
			}
		}
	}

	return float64(hits) / float64(len(users)), nil
}

// MapHitRate is HitRate over every user in m.
func (e *Engine) MapHitRate(m RecommendationMap, n int) (float64, error) {
	users := m.Users()
	lists := make([][]int64, len(users))
	for i, u := range users {
		lists[i] = m[u]
	}
	return e.HitRate(users, lists, n)
}

// Improvement compares next against baseline at every N. Both maps are
// evaluated over the baseline's users; users missing from next count as
// misses and users only in next are ignored.
func (e *Engine) Improvement(baseline, next RecommendationMap, ns []int) ([]Result, error) {
	users := baseline.Users()
	baseLists := make([][]int64, len(users))
	nextLists := make([][]int64, len(users))
	for i, u := range users {
		baseLists[i] = baseline[u]
		nextLists[i] = next[u]
	}

	results := make([]Result, 0, len(ns))
	for _, n := range ns {
		base, err := e.HitRate(users, baseLists, n)
		if err != nil {
			return nil, fmt.Errorf("baseline hit rate at N=%d: %w", n, err)
		}
		nw, err := e.HitRate(users, nextLists, n)
		if err != nil {
			return nil, fmt.Errorf("new hit rate at N=%d: %w", n, err)
		}
		results = append(results, Result{N: n, Baseline: base, New: nw, Improvement: RelativeImprovement(base, nw)})
	}
	return results, nil
}

// RelativeImprovement returns (next-base)/base in percent, +Inf when base is
// zero, and NaN when base is NaN.
func RelativeImprovement(base, next float64) float64 {
	switch {
	case math.IsNaN(base) || math.IsNaN(next):
		return math.NaN()
	case base == 0:
		return math.Inf(1)
	default:
		return (next - base) / base * 100
	}
}

// WriteReport prints one block per N.
func WriteReport(w io.Writer, results []Result) error {
	for _, r := range results {
		_, err := fmt.Fprintf(w, "\nFor N = %d:\n  Baseline Hit Rate: %.4f\n  New Hit Rate: %.4f\n  Hit Rate Improvement: %.2f%%\n",
			r.N, r.Baseline, r.New, r.Improvement)
		if err != nil {
			return err
		}
	}
	return nil
}
