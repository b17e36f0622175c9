package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
)

func TestFormatQueryResults(t *testing.T) {
	assert.Equal(t, `No results found for "x"`, FormatQueryResults("x", nil))

	out := FormatQueryResults("refunds", []search.Result{sampleResult()})

	assert.Contains(t, out, `## Results for "refunds"`)
	assert.Contains(t, out, "Found 1 result\n")
	assert.Contains(t, out, "### 1. Refund Policy (chunk 0, score: 0.032)")
	assert.Contains(t, out, "Refunds are issued within 30 days.")
}

func TestFormatAnswer(t *testing.T) {
	out := FormatAnswer(&search.Answer{Text: " Thirty days [1]. ", Sources: []search.Result{sampleResult()}})

	assert.Contains(t, out, "Thirty days [1].\n")
	assert.Contains(t, out, "1. Refund Policy (chunk 0)")
	assert.NotContains(t, FormatAnswer(&search.Answer{Text: "no"}), "Sources")
}

func TestFormatDocument_EmbedStates(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		doc  *store.Document
		want string
	}{
		{"pending", &store.Document{}, "pending"},
		{"embedded", &store.Document{EmbeddedAt: &at, ChunkCount: 4}, "4 chunks at 2026-05-01 12:00:00"},
		{"failed", &store.Document{LastEmbedError: "queue full"}, "failed: queue full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.doc.Name, tt.doc.Slug, tt.doc.ContentType = "Doc", "doc", "json"
			out := FormatDocument(tt.doc)
			assert.Contains(t, out, "**Embedding:** "+tt.want)
			assert.Contains(t, out, "```json")
		})
	}
}

func TestFormatDocumentList(t *testing.T) {
	assert.Equal(t, "No documents found.", FormatDocumentList(nil))

	out := FormatDocumentList([]*store.Document{{Slug: "faq", Name: "FAQ", Version: 3, ChunkCount: 2}})

	assert.Contains(t, out, "| faq | FAQ | 3 | 2 | pending |")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, clampLimit(0, 5, 1, 50))
	assert.Equal(t, 5, clampLimit(-3, 5, 1, 50))
	assert.Equal(t, 50, clampLimit(99, 5, 1, 50))
	assert.Equal(t, 7, clampLimit(7, 5, 1, 50))
}

func TestMatchReason(t *testing.T) {
	r := search.Result{VectorRank: -1, KeywordRank: -1}
	assert.Equal(t, "matched content", matchReason(r))

	r.KeywordRank, r.Reranked = 0, true
	assert.Equal(t, "keyword rank 1; reranked", matchReason(r))
}
