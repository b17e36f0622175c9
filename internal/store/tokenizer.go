package store

import (
	"regexp"
	"strings"
)

var termRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// queryStopWords are dropped from full-text queries so AND semantics do not
// require filler words to appear in a chunk.
var queryStopWords = buildStopWordMap([]string{
	"a", "about", "an", "and", "are", "as", "at", "be", "but", "by",
	"can", "could", "did", "do", "does", "for", "from", "had", "has", "have",
	"how", "i", "if", "in", "into", "is", "it", "its", "me", "my",
	"no", "not", "of", "on", "or", "our", "should", "so", "that", "the",
	"their", "them", "then", "there", "these", "they", "this", "to", "was", "we",
	"were", "what", "when", "where", "which", "who", "why", "will", "with", "would",
	"you", "your",
})

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// QueryTerms lowercases text, splits it into letter/digit runs and drops
// stop words and duplicates, keeping first-seen order.
func QueryTerms(text string) []string {
	words := termRegex.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := queryStopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// ftsMatchExpr quotes each term and ANDs them, which is how FTS5 reads
// a space-separated list of strings.
func ftsMatchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
