package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/llm"
)

// MaxRerankCandidates caps how many leading results are sent to the model.
const MaxRerankCandidates = 20

// maxPassageChars truncates each passage in the rerank prompt.
const maxPassageChars = 1000

// RerankResult represents a single reranked result
type RerankResult struct {
	// Index is the original position in the input documents slice
	Index int
	// Score is the relevance score (0.0 to 1.0)
	Score float64
	// Document is the original document content
	Document string
}

// Reranker reorders candidate passages by relevance to a query.
type Reranker interface {
	// Rerank returns at most topK results (0 = all) sorted by relevance.
	// An error means the original order should be kept.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// modelSelector is implemented by rerankers that can switch model per call.
type modelSelector interface {
	WithModel(model string) Reranker
}

// NoOpReranker is a reranker that returns results in original order.
// Used when reranking is requested but no generator is configured.
type NoOpReranker struct{}

// Rerank returns documents in original order with decreasing scores.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: rankScore(i), Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always returns true for NoOpReranker.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op for NoOpReranker.
func (n *NoOpReranker) Close() error {
	return nil
}

// LLMReranker asks a generative model for the indices of the most relevant
// passages and parses its answer defensively.
type LLMReranker struct {
	gen           llm.Generator
	model         string
	maxCandidates int
}

var (
	_ Reranker = (*NoOpReranker)(nil)
	_ Reranker = (*LLMReranker)(nil)
)

// NewLLMReranker creates a reranker over gen. maxCandidates is clamped to
// [1, MaxRerankCandidates].
func NewLLMReranker(gen llm.Generator, maxCandidates int) *LLMReranker {
	if maxCandidates <= 0 || maxCandidates > MaxRerankCandidates {
		maxCandidates = MaxRerankCandidates
	}
	return &LLMReranker{gen: gen, maxCandidates: maxCandidates}
}

// WithModel returns a copy that sends prompts to model.
func (r *LLMReranker) WithModel(model string) Reranker {
	c := *r
	c.model = model
	return &c
}

// Rerank considers only the first maxCandidates documents. The result
// always holds min(topK, candidates) entries: indices the model skipped are
// backfilled in original order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	candidates := documents
	if len(candidates) > r.maxCandidates {
		candidates = candidates[:r.maxCandidates]
	}
	if len(candidates) == 0 {
		return []RerankResult{}, nil
	}
	k := topK
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	start := time.Now()
	reply, err := r.gen.Generate(ctx, llm.Request{
		Prompt:      buildRerankPrompt(query, candidates, k),
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankFailed, "rerank model call failed", err)
	}

	order := ParseRerankIndices(reply, len(candidates))
	if len(order) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnparsable,
			fmt.Sprintf("rerank reply has no usable index: %q", truncate(reply, 80)), nil)
	}
	order = backfill(order, len(candidates), k)

	results := make([]RerankResult, k)
	for i, idx := range order[:k] {
		results[i] = RerankResult{Index: idx, Score: rankScore(i), Document: candidates[idx]}
	}

	slog.Debug("rerank_complete",
		slog.String("query", truncate(query, 50)),
		slog.Int("candidates", len(candidates)),
		slog.Int("parsed", len(order)),
		slog.Duration("took", time.Since(start)))
	return results, nil
}

// Available reports whether a generator is set.
func (r *LLMReranker) Available(_ context.Context) bool {
	return r.gen != nil
}

// Close does nothing; the generator is owned by the caller.
func (r *LLMReranker) Close() error {
	return nil
}

func buildRerankPrompt(query string, passages []string, k int) string {
	var sb strings.Builder
	sb.WriteString("Rank the passages by how well they answer the query.\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\nPassages:\n", query)
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n", i, strings.Join(strings.Fields(truncate(p, maxPassageChars)), " "))
	}
	fmt.Fprintf(&sb, "\nReturn the indices of the %d most relevant passages, most relevant first, "+
		"as a comma-separated list of numbers such as 3,0,1. Reply with the list only.", k)
	return sb.String()
}

// ParseRerankIndices keeps only digits and commas from reply, then returns
// the in-range indices in order with duplicates removed.
func ParseRerankIndices(reply string, n int) []int {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' {
			return r
		}
		return -1
	}, reply)

	seen := make(map[int]bool, n)
	var out []int
	for _, field := range strings.Split(cleaned, ",") {
		if field == "" {
			continue
		}
		idx, err := strconv.Atoi(field)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// backfill appends unused indices in original order until order has k.
func backfill(order []int, n, k int) []int {
	if len(order) >= k {
		return order
	}
	used := make(map[int]bool, len(order))
	for _, i := range order {
		used[i] = true
	}
	for i := 0; i < n && len(order) < k; i++ {
		if !used[i] {
			order = append(order, i)
		}
	}
	return order
}

func rankScore(i int) float64 {
	return 1.0 - float64(i)*0.01
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
