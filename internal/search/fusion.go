package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion merges a vector list and a keyword list with Reciprocal Rank
// Fusion.
//
// Each list contributes weight / (K + rank + 1) for a 0-based rank. An item
// present in both lists sums both contributions under its chunk id, so
// agreement between the two signals ranks an item higher.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with the given constant. If k <= 0, defaults
// to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse returns the merged list sorted by fused score. The vector list gets
// vectorWeight and the keyword list 1-vectorWeight. Ties keep vector order,
// then keyword order for keyword-only items. Items whose fused score is zero
// (present only in a list weighted 0) are dropped.
func (f *RRFFusion) Fuse(vector, keyword []Result, vectorWeight float64) []Result {
	keywordWeight := 1 - vectorWeight

	fused := make([]Result, 0, len(vector)+len(keyword))
	pos := make(map[string]int, len(vector)+len(keyword))

	for rank, r := range vector {
		if _, dup := pos[r.ID]; dup {
			continue
		}
		r.VectorRank = rank
		r.VectorScore = r.Score
		r.KeywordRank = -1
		r.Score = vectorWeight / float64(f.K+rank+1)
		pos[r.ID] = len(fused)
		fused = append(fused, r)
	}

	for rank, r := range keyword {
		contribution := keywordWeight / float64(f.K+rank+1)
		if i, ok := pos[r.ID]; ok {
			if fused[i].KeywordRank >= 0 {
				continue
			}
			fused[i].KeywordRank = rank
			fused[i].KeywordScore = r.Score
			fused[i].Score += contribution
			continue
		}
		r.KeywordRank = rank
		r.KeywordScore = r.Score
		r.VectorRank = -1
		r.Score = contribution
		pos[r.ID] = len(fused)
		fused = append(fused, r)
	}

	out := fused[:0]
	for _, r := range fused {
		if r.Score > 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
