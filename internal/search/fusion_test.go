package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(ids ...string) []Result {
	out := make([]Result, len(ids))
	for i, id := range ids {
		out[i] = Result{ID: id, Score: 1 - float64(i)*0.1, Text: id}
	}
	return out
}

func ids(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestRRFFusion_Scores(t *testing.T) {
	// Given: vector [A, B, C] and keyword [C, A, D]
	fusion := NewRRFFusion(60)

	// When: fusing with equal weights
	fused := fusion.Fuse(results("A", "B", "C"), results("C", "A", "D"), 0.5)

	// Then: shared items sum both partial scores
	byID := make(map[string]Result)
	for _, r := range fused {
		byID[r.ID] = r
	}
	require.Len(t, byID, 4)
	assert.InDelta(t, 0.5/61+0.5/62, byID["A"].Score, 1e-12)
	assert.InDelta(t, 0.5/62, byID["B"].Score, 1e-12)
	assert.InDelta(t, 0.5/63+0.5/61, byID["C"].Score, 1e-12)
	assert.InDelta(t, 0.5/63, byID["D"].Score, 1e-12)

	// And: ranks are 0-based with -1 for absence
	assert.Equal(t, 0, byID["A"].VectorRank)
	assert.Equal(t, 1, byID["A"].KeywordRank)
	assert.Equal(t, -1, byID["B"].KeywordRank)
	assert.Equal(t, -1, byID["D"].VectorRank)

	// And: original scores are preserved
	assert.InDelta(t, 1.0, byID["A"].VectorScore, 1e-12)
	assert.InDelta(t, 0.9, byID["A"].KeywordScore, 1e-12)

	assert.Equal(t, []string{"A", "C", "B", "D"}, ids(fused))
}

func TestRRFFusion_DefaultConstant(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(0).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}

func TestRRFFusion_TiesKeepVectorOrder(t *testing.T) {
	// Given: disjoint lists with equal weights, so ranks tie pairwise
	fused := NewRRFFusion(60).Fuse(results("V0", "V1"), results("K0", "K1"), 0.5)

	// Then: at each tied score the vector item comes first
	assert.Equal(t, []string{"V0", "K0", "V1", "K1"}, ids(fused))
}

func TestRRFFusion_WeightBoundaries(t *testing.T) {
	vector := results("A", "B", "C")
	keyword := results("D", "B", "E")
	fusion := NewRRFFusion(60)

	// vectorWeight=1 reproduces the vector list
	assert.Equal(t, []string{"A", "B", "C"}, ids(fusion.Fuse(vector, keyword, 1)))

	// vectorWeight=0 reproduces the keyword list
	assert.Equal(t, []string{"D", "B", "E"}, ids(fusion.Fuse(vector, keyword, 0)))
}

func TestRRFFusion_Monotonicity(t *testing.T) {
	// An item first in both lists ranks at or above every single-list item
	for _, w := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		fused := NewRRFFusion(60).Fuse(results("top", "v1", "v2"), results("top", "k1", "k2"), w)
		require.NotEmpty(t, fused)
		assert.Equal(t, "top", fused[0].ID, "weight %v", w)
	}
}

func TestRRFFusion_EmptyAndDuplicates(t *testing.T) {
	fusion := NewRRFFusion(60)
	assert.Empty(t, fusion.Fuse(nil, nil, 0.5))

	// Duplicate ids inside one list count once at their first rank
	fused := fusion.Fuse(results("A", "A"), results("B", "B"), 0.5)
	assert.Equal(t, []string{"A", "B"}, ids(fused))
	assert.InDelta(t, 0.5/61, fused[0].Score, 1e-12)
}
