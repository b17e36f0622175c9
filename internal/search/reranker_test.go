package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/llm"
)

func TestNoOpReranker_Rerank_PreservesOrder(t *testing.T) {
	// Given: NoOpReranker and documents
	reranker := &NoOpReranker{}
	documents := []string{"doc1", "doc2", "doc3"}

	// When: reranking
	results, err := reranker.Rerank(context.Background(), "query", documents, 0)

	// Then: order is preserved with decreasing scores
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, documents[i], r.Document)
	}
	assert.Greater(t, results[0].Score, results[2].Score)
}

func TestNoOpReranker_Rerank_RespectsTopK(t *testing.T) {
	results, err := (&NoOpReranker{}).Rerank(context.Background(), "query", []string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestParseRerankIndices(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		n     int
		want  []int
	}{
		{"plain list", "2,0,1", 3, []int{2, 0, 1}},
		{"spaces and prose", "The ranking is: 2, 0, 1.", 3, []int{2, 0, 1}},
		{"out of range dropped", "5,1,9", 3, []int{1}},
		{"duplicates dropped", "1,1,0,1", 3, []int{1, 0}},
		{"empty fields skipped", ",,2,,", 3, []int{2}},
		{"nothing usable", "I cannot rank these.", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRerankIndices(tt.reply, tt.n))
		})
	}
}

func TestLLMReranker_Rerank(t *testing.T) {
	docs := []string{"zero", "one", "two", "three"}

	t.Run("model order", func(t *testing.T) {
		r := NewLLMReranker(llm.Func(func(context.Context, llm.Request) (string, error) {
			return "3,1", nil
		}), 0)
		out, err := r.Rerank(context.Background(), "q", docs, 2)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 3, out[0].Index)
		assert.Equal(t, "three", out[0].Document)
		assert.Equal(t, 1, out[1].Index)
	})

	t.Run("backfills missing slots in original order", func(t *testing.T) {
		r := NewLLMReranker(llm.Func(func(context.Context, llm.Request) (string, error) {
			return "2", nil
		}), 0)
		out, err := r.Rerank(context.Background(), "q", docs, 3)
		require.NoError(t, err)
		got := make([]int, len(out))
		for i, rr := range out {
			got[i] = rr.Index
		}
		assert.Equal(t, []int{2, 0, 1}, got)
	})

	t.Run("unparsable reply", func(t *testing.T) {
		r := NewLLMReranker(llm.Func(func(context.Context, llm.Request) (string, error) {
			return "no idea", nil
		}), 0)
		_, err := r.Rerank(context.Background(), "q", docs, 2)
		require.Error(t, err)
		assert.Equal(t, kberrors.ErrCodeRerankUnparsable, kberrors.GetCode(err))
	})

	t.Run("model error", func(t *testing.T) {
		r := NewLLMReranker(llm.Func(func(context.Context, llm.Request) (string, error) {
			return "", errors.New("boom")
		}), 0)
		_, err := r.Rerank(context.Background(), "q", docs, 2)
		require.Error(t, err)
		assert.Equal(t, kberrors.ErrCodeRerankFailed, kberrors.GetCode(err))
	})
}

func TestLLMReranker_CapsCandidates(t *testing.T) {
	docs := make([]string, 30)
	for i := range docs {
		docs[i] = fmt.Sprintf("passage %d", i)
	}

	var prompt string
	r := NewLLMReranker(llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "25,19", nil
	}), 50)

	out, err := r.Rerank(context.Background(), "q", docs, 0)
	require.NoError(t, err)

	// Only the first 20 passages are shown and returned
	assert.Contains(t, prompt, "[19] passage 19")
	assert.NotContains(t, prompt, "[20]")
	require.Len(t, out, MaxRerankCandidates)
	assert.Equal(t, 19, out[0].Index)
	assert.Equal(t, 0, out[1].Index)
}

func TestLLMReranker_WithModel(t *testing.T) {
	var model string
	base := NewLLMReranker(llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		model = req.Model
		return "0", nil
	}), 0)

	_, err := base.WithModel("judge").Rerank(context.Background(), "q", []string{"a"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "judge", model)

	_, err = base.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.NoError(t, err)
	assert.Empty(t, model)
}

func TestBuildRerankPrompt_TruncatesPassages(t *testing.T) {
	long := strings.Repeat("word ", 500)
	prompt := buildRerankPrompt("q", []string{long}, 1)
	assert.Less(t, len(prompt), len(long))
	assert.Contains(t, prompt, "most relevant passages")
}
