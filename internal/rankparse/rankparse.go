// Package rankparse turns raw model output into validated orderings of the
// candidates that were sent to the model.
package rankparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMalformedScores is returned when a score array has the wrong shape.
	ErrMalformedScores = errors.New("malformed score array")

	// ErrParse is returned when free text does not contain a usable id list.
	ErrParse = errors.New("no valid id list in response")
)

// Mode selects how IDList treats a list that is not a permutation of the
// expected ids.
type Mode int

const (
	// ModeStrict rejects anything but an exact permutation.
	ModeStrict Mode = iota
	// ModeRepair drops unknown and surplus ids and appends missing ones in
	// their original order.
	ModeRepair
)

// ParseMode parses "strict" or "repair".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "repair":
		return ModeRepair, nil
	default:
		return ModeStrict, fmt.Errorf("unknown parse mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeRepair {
		return "repair"
	}
	return "strict"
}

// Scores decodes a JSON array of exactly n numbers and returns the candidate
// indices ordered by descending score, along with the decoded scores.
func Scores(raw []byte, n int) ([]int, []float64, error) {
	scores, err := decodeScores(raw, n)
	if err != nil {
		return nil, nil, err
	}
	return Order(scores), scores, nil
}

func decodeScores(raw []byte, n int) ([]float64, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("%w: not an array: %v", ErrMalformedScores, err)
	}
	if len(elems) != n {
		return nil, fmt.Errorf("%w: got %d scores for %d candidates", ErrMalformedScores, len(elems), n)
	}

	scores := make([]float64, n)
	for i, e := range elems {
		e = bytes.TrimSpace(e)
		if len(e) == 0 || !(e[0] == '-' || (e[0] >= '0' && e[0] <= '9')) {
			return nil, fmt.Errorf("%w: element %d is not a number: %s", ErrMalformedScores, i, e)
		}
		v, err := strconv.ParseFloat(string(e), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedScores, i, err)
		}
		scores[i] = v
	}
	return scores, nil
}

// Order returns the indices of scores sorted by descending score. Equal
// scores keep their original relative order.
func Order(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	return idx
}

var idRun = regexp.MustCompile(`\d+(?:[ \t]*,[ \t\r\n]*\d+)*`)

// longestRun returns the integers of the longest comma-separated run in
// text, counted by elements. The first run wins ties.
func longestRun(text string) []int64 {
	var best []int64
	for _, m := range idRun.FindAllString(text, -1) {
		parts := strings.Split(m, ",")
		if len(parts) <= len(best) {
			continue
		}
		ids := make([]int64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				// Overflowing digit strings cannot be candidate ids.
				ids = nil
				break
			}
			ids = append(ids, v)
		}
		if ids != nil {
			best = ids
		}
	}
	return best
}

// IDList extracts the ranked ids from a free-text response. The result is
// always a permutation of expected, duplicates included.
func IDList(text string, expected []int64, mode Mode) ([]int64, error) {
	run := longestRun(text)
	if len(run) == 0 {
		return nil, ErrParse
	}

	remaining := make(map[int64]int, len(expected))
	for _, id := range expected {
		remaining[id]++
	}

	if mode == ModeStrict {
		if len(run) != len(expected) {
			return nil, fmt.Errorf("%w: got %d ids for %d candidates", ErrParse, len(run), len(expected))
		}
		for _, id := range run {
			if remaining[id] == 0 {
				return nil, fmt.Errorf("%w: unexpected or repeated id %d", ErrParse, id)
			}
			remaining[id]--
		}
		return run, nil
	}

	out := make([]int64, 0, len(expected))
	for _, id := range run {
		if remaining[id] == 0 {
			continue
		}
		remaining[id]--
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no candidate ids in response", ErrParse)
	}
	for _, id := range expected {
		if remaining[id] > 0 {
			remaining[id]--
			out = append(out, id)
		}
	}
	return out, nil
}
