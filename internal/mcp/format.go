package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// FormatQueryResults formats retrieved chunks as markdown.
func FormatQueryResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s (chunk %d, score: %.3f)\n",
			i+1, sourceLabel(r), r.Metadata.ChunkIndex, r.Score)
		fmt.Fprintf(&sb, "_%s_\n\n", matchReason(r))
		sb.WriteString(r.Text)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// FormatAnswer renders a generated answer with its numbered sources.
func FormatAnswer(a *search.Answer) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(a.Text))
	sb.WriteString("\n")
	if len(a.Sources) == 0 {
		return sb.String()
	}
	sb.WriteString("\n**Sources:**\n")
	for i, r := range a.Sources {
		fmt.Fprintf(&sb, "%d. %s (chunk %d)\n", i+1, sourceLabel(r), r.Metadata.ChunkIndex)
	}
	return sb.String()
}

// FormatDocument renders one document with its embedding state.
func FormatDocument(doc *store.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", doc.Name)
	fmt.Fprintf(&sb, "- **Slug:** `%s`\n", doc.Slug)
	fmt.Fprintf(&sb, "- **ID:** `%s`\n", doc.ID)
	fmt.Fprintf(&sb, "- **Version:** %d\n", doc.Version)
	fmt.Fprintf(&sb, "- **Embedding:** %s\n", embedState(doc))
	if doc.Category != "" {
		fmt.Fprintf(&sb, "- **Category:** %s\n", doc.Category)
	}
	if len(doc.Tags) > 0 {
		fmt.Fprintf(&sb, "- **Tags:** %s\n", strings.Join(doc.Tags, ", "))
	}
	if doc.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", doc.Description)
	}
	fmt.Fprintf(&sb, "\n```%s\n%s\n```\n", fenceLang(doc.ContentType), doc.Content)
	return sb.String()
}

// FormatDocumentList renders a table of documents.
func FormatDocumentList(docs []*store.Document) string {
	if len(docs) == 0 {
		return "No documents found."
	}
	var sb strings.Builder
	sb.WriteString("| Slug | Name | Version | Chunks | Embedding |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %s |\n",
			d.Slug, d.Name, d.Version, d.ChunkCount, embedState(d))
	}
	return sb.String()
}

func embedState(doc *store.Document) string {
	switch {
	case doc.LastEmbedError != "":
		return "failed: " + doc.LastEmbedError
	case doc.EmbeddedAt != nil:
		return fmt.Sprintf("%d chunks at %s", doc.ChunkCount, doc.EmbeddedAt.UTC().Format("2006-01-02 15:04:05"))
	default:
		return "pending"
	}
}

func fenceLang(contentType string) string {
	switch contentType {
	case "markdown", "json", "html":
		return contentType
	default:
		return "text"
	}
}

func sourceLabel(r search.Result) string {
	if r.Metadata.SourceName != "" {
		return r.Metadata.SourceName
	}
	return r.DocumentID()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ResultOutput is the structured form of one retrieved chunk.
type ResultOutput struct {
	ID          string  `json:"id" jsonschema:"chunk id"`
	DocumentID  string  `json:"document_id" jsonschema:"slug of the source document"`
	SourceName  string  `json:"source_name,omitempty" jsonschema:"display name of the source document"`
	ChunkIndex  int     `json:"chunk_index" jsonschema:"position of the chunk in its document"`
	Text        string  `json:"text" jsonschema:"chunk text"`
	Score       float64 `json:"score" jsonschema:"ranking score for the query mode"`
	MatchReason string  `json:"match_reason" jsonschema:"which retrieval paths found this chunk"`
}

// ToResultOutput converts a search result to its structured output.
func ToResultOutput(r search.Result) ResultOutput {
	return ResultOutput{
		ID:          r.ID,
		DocumentID:  r.DocumentID(),
		SourceName:  r.Metadata.SourceName,
		ChunkIndex:  r.Metadata.ChunkIndex,
		Text:        r.Text,
		Score:       r.Score,
		MatchReason: matchReason(r),
	}
}

// matchReason explains which paths ranked a result.
func matchReason(r search.Result) string {
	var parts []string
	if r.VectorRank >= 0 {
		parts = append(parts, fmt.Sprintf("semantic rank %d", r.VectorRank+1))
	}
	if r.KeywordRank >= 0 {
		parts = append(parts, fmt.Sprintf("keyword rank %d", r.KeywordRank+1))
	}
	if r.Reranked {
		parts = append(parts, "reranked")
	}
	if len(parts) == 0 {
		return "matched content"
	}
	return strings.Join(parts, "; ")
}
