package reranker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/knoguchi/rerankeval/internal/llm"
	"github.com/knoguchi/rerankeval/internal/rankparse"
)

const systemPrompt = "You are a recommender system that reranks candidate videos for a user. " +
	"You answer only with a comma-separated list of item ids."

// GenerativeReranker asks an LLM to return the candidate ids in ranked order.
// Unparsable answers fall back to the baseline order with ids outside the
// catalog dropped, the same list the model was asked to rank.
type GenerativeReranker struct {
	preamble
	llmClient llm.LLM
}

// newGenerativeReranker creates a generative reranker.
func newGenerativeReranker(base preamble, llmClient llm.LLM) *GenerativeReranker {
	return &GenerativeReranker{preamble: base, llmClient: llmClient}
}

// Name identifies the strategy and model.
func (r *GenerativeReranker) Name() string {
	return fmt.Sprintf("%s/%s", KindGenerative, r.cfg.ModelIdentifier)
}

// Rerank prompts the model once. Backend errors are returned; parse failures
// are not.
func (r *GenerativeReranker) Rerank(ctx context.Context, userID int64, candidates []int64) (Ranking, error) {
	p, ok, err := r.prepare(ctx, userID, candidates)
	if err != nil {
		return Ranking{}, err
	}
	if !ok {
		return Ranking{Items: []int64{}}, nil
	}

	prompt := r.buildRerankPrompt(p)
	opts := llm.GenerateOptions{
		Model:        r.cfg.ModelIdentifier,
		SystemPrompt: systemPrompt,
		Temperature:  r.cfg.Temperature,
		// Room for every id plus separators and some chatter.
		MaxTokens: 16*len(p.candidates) + 64,
	}

	response, err := r.generate(ctx, prompt, opts)
	if err != nil {
		return Ranking{}, fmt.Errorf("LLM reranking failed: %w", err)
	}

	items, err := rankparse.IDList(response, p.candidates, r.cfg.ParseMode)
	if err != nil {
		if !errors.Is(err, rankparse.ErrParse) {
			return Ranking{}, err
		}
		r.logger.Warn("unparsable reranking, keeping baseline order",
			"user_id", userID,
			"mode", r.cfg.ParseMode.String(),
			"error", err,
			"response", truncateForLog(response),
		)
		return r.fallback(p.candidates, err), nil
	}

	return Ranking{Items: items}, nil
}

func (r *GenerativeReranker) generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if !r.cfg.Stream {
		return r.llmClient.Generate(ctx, prompt, opts)
	}
	chunks, err := r.llmClient.GenerateStream(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, chunks)
}

// buildRerankPrompt lists the user's recent history, every candidate with
// its profile, and the exact id list expected back.
func (r *GenerativeReranker) buildRerankPrompt(p prepared) string {
	var sb strings.Builder

	sb.WriteString("Rerank the candidate videos by how likely the user is to watch each one next.\n\n")

	sb.WriteString("Recently watched by the user:\n")
	if p.user == "" {
		sb.WriteString("(no history)\n")
	} else {
		sb.WriteString(p.user)
		if !strings.HasSuffix(p.user, "\n") {
			sb.WriteByte('\n')
		}
	}
	sb.WriteByte('\n')

	sb.WriteString("Candidates:\n")
	for i, id := range p.candidates {
		fmt.Fprintf(&sb, "[Item %d]\n", id)
		if p.profiles[i] == "" {
			sb.WriteString("(no information)\n")
		} else {
			sb.WriteString(p.profiles[i])
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Candidate ids: ")
	sb.WriteString(joinIDs(p.candidates))
	sb.WriteString("\n\n")

	sb.WriteString(`Return every candidate id exactly once, most likely first, as a comma-separated list.
Output only the list, no explanation:`)

	return sb.String()
}

// fallback returns the candidates in their original order. Callers pass the
// filtered list, so unknown ids are already gone.
func (r *GenerativeReranker) fallback(candidates []int64, reason error) Ranking {
	items := make([]int64, len(candidates))
	copy(items, candidates)
	return Ranking{Items: items, Fallback: true, Reason: reason.Error()}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Ensure GenerativeReranker implements Reranker interface.
var _ Reranker = (*GenerativeReranker)(nil)
