package rankparse

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScores(t *testing.T) {
	order, scores, err := Scores([]byte(`[0.1, 0.9, 0.5]`), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, order)
	assert.Equal(t, []float64{0.1, 0.9, 0.5}, scores)

	order, _, err = Scores([]byte(`[1, 2, 2, 1]`), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0, 3}, order, "ties keep original position")
}

func TestScores_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		n    int
	}{
		{"not an array", `{"error": "loading"}`, 1},
		{"too short", `[0.1]`, 2},
		{"too long", `[0.1, 0.2, 0.3]`, 2},
		{"string element", `[0.1, "0.2"]`, 2},
		{"null element", `[0.1, null]`, 2},
		{"nested array", `[[0.1], [0.2]]`, 2},
		{"bool element", `[true, 0.2]`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Scores([]byte(tt.raw), tt.n)
			assert.ErrorIs(t, err, ErrMalformedScores)
		})
	}
}

func TestScores_IsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for k := 0; k < 50; k++ {
		n := rng.Intn(30)
		parts := make([]string, n)
		for i := range parts {
			// Few distinct values so ties are common.
			parts[i] = strconv.Itoa(rng.Intn(4))
		}
		order, _, err := Scores([]byte("["+strings.Join(parts, ",")+"]"), n)
		require.NoError(t, err)

		sorted := append([]int(nil), order...)
		sort.Ints(sorted)
		for i, v := range sorted {
			require.Equal(t, i, v)
		}
	}
}

func TestOrder_Empty(t *testing.T) {
	assert.Empty(t, Order(nil))
}

func TestIDList_Strict(t *testing.T) {
	expected := []int64{10, 20, 30}

	ids, err := IDList("Here is the ranking: 30, 10, 20. Hope it helps!", expected, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, ids)

	ids, err = IDList("[20,\n30,\n10]", expected, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30, 10}, ids)

	_, err = IDList("I cannot rank these.", expected, ModeStrict)
	assert.ErrorIs(t, err, ErrParse)

	_, err = IDList("30, 10", expected, ModeStrict)
	assert.ErrorIs(t, err, ErrParse, "missing id")

	_, err = IDList("30, 10, 10", expected, ModeStrict)
	assert.ErrorIs(t, err, ErrParse, "duplicate id")

	_, err = IDList("30, 10, 20, 40", expected, ModeStrict)
	assert.ErrorIs(t, err, ErrParse, "unknown id")
}

func TestIDList_LongestRunWins(t *testing.T) {
	ids, err := IDList("Top 3 picks among 1, 2: 30, 10, 20", []int64{10, 20, 30}, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, ids)
}

func TestIDList_Repair(t *testing.T) {
	expected := []int64{10, 20, 30, 40}

	ids, err := IDList("30, 99, 10, 30", expected, ModeRepair)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20, 40}, ids)

	_, err = IDList("98, 99", expected, ModeRepair)
	assert.ErrorIs(t, err, ErrParse)
}

func TestIDList_DuplicateCandidates(t *testing.T) {
	expected := []int64{5, 7, 5}

	ids, err := IDList("5, 5, 7", expected, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 5, 7}, ids)

	ids, err = IDList("7, 5", expected, ModeRepair)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 5, 5}, ids)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Repair")
	require.NoError(t, err)
	assert.Equal(t, ModeRepair, m)
	assert.Equal(t, "repair", m.String())

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
