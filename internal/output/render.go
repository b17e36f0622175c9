package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/ragkb/internal/async"
	"github.com/Aman-CERP/ragkb/internal/preflight"
	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/watcher"
)

// snippetWidth is how much chunk text a result line shows.
const snippetWidth = 240

// JSON writes v indented, for --json output.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Results prints ranked chunks.
func (w *Writer) Results(results []search.Result) {
	if len(results) == 0 {
		w.Warning("No matching chunks.")
		return
	}
	s := w.styles
	for i, r := range results {
		head := fmt.Sprintf("%d. %s %s",
			i+1,
			s.Slug.Render(r.DocumentID()),
			s.Label.Render(fmt.Sprintf("chunk %d/%d", r.Metadata.ChunkIndex+1, max(r.Metadata.TotalChunks, 1))))
		w.Println(head)
		w.Println("   " + s.Score.Render(scoreLine(r)))
		w.Println("   " + snippet(r.Text, snippetWidth))
		w.Newline()
	}
}

func scoreLine(r search.Result) string {
	parts := []string{"score " + strconv.FormatFloat(r.Score, 'f', 4, 64)}
	if r.VectorRank >= 0 {
		parts = append(parts, fmt.Sprintf("vector #%d (%.3f)", r.VectorRank+1, r.VectorScore))
	}
	if r.KeywordRank >= 0 {
		parts = append(parts, fmt.Sprintf("keyword #%d (%.3f)", r.KeywordRank+1, r.KeywordScore))
	}
	if r.Reranked {
		parts = append(parts, "reranked")
	}
	return strings.Join(parts, " · ")
}

func snippet(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= width {
		return text
	}
	return string(r[:width-1]) + "…"
}

// Answer prints a generated answer with its sources.
func (w *Writer) Answer(a *search.Answer) {
	if a == nil {
		return
	}
	s := w.styles
	w.Println(s.Panel.Render(strings.TrimSpace(a.Text)))
	if a.Model != "" {
		w.Println(s.Label.Render("model: " + a.Model))
	}
	if len(a.Sources) == 0 {
		return
	}
	w.Newline()
	w.Println(s.Header.Render("Sources"))
	for i, src := range a.Sources {
		w.Println(fmt.Sprintf("  [%d] %s %s", i+1,
			s.Slug.Render(src.DocumentID()),
			s.Score.Render(strconv.FormatFloat(src.Score, 'f', 4, 64))))
	}
}

// EmbedState summarises where a document is in background embedding.
func EmbedState(d *store.Document) string {
	switch {
	case d.LastEmbedError != "":
		return "failed"
	case d.EmbeddedAt == nil:
		return "pending"
	default:
		return "embedded"
	}
}

// Document prints one document's fields. Content is printed when
// withContent is set.
func (w *Writer) Document(d *store.Document, withContent bool) {
	s := w.styles
	w.Println(s.Header.Render(d.Name) + " " + s.Label.Render("("+d.Slug+")"))

	rows := [][2]string{
		{"id", d.ID},
		{"version", strconv.Itoa(d.Version)},
		{"type", d.ContentType},
		{"chunks", strconv.Itoa(d.ChunkCount)},
		{"embedding", EmbedState(d)},
	}
	if d.EmbeddedAt != nil {
		rows = append(rows, [2]string{"embedded at", d.EmbeddedAt.Format(time.RFC3339)})
	}
	if d.LastEmbedError != "" {
		rows = append(rows, [2]string{"embed error", d.LastEmbedError})
	}
	if d.Category != "" {
		rows = append(rows, [2]string{"category", d.Category})
	}
	if len(d.Tags) > 0 {
		rows = append(rows, [2]string{"tags", strings.Join(d.Tags, ", ")})
	}
	if d.OrganizationID != "" {
		rows = append(rows, [2]string{"organization", d.OrganizationID})
	}
	if d.WorkspaceID != "" {
		rows = append(rows, [2]string{"workspace", d.WorkspaceID})
	}
	if d.Description != "" {
		rows = append(rows, [2]string{"description", d.Description})
	}
	rows = append(rows, [2]string{"updated", d.UpdatedAt.Format(time.RFC3339)})

	for _, row := range rows {
		w.Println(fmt.Sprintf("  %s %s", s.Label.Render(fmt.Sprintf("%-12s", row[0])), row[1]))
	}

	if withContent {
		w.Code(d.Content)
	}
}

func (w *Writer) table(headers []string, rows [][]string) {
	s := w.styles
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	w.Println(t.String())
}

// DocumentList prints documents as a table.
func (w *Writer) DocumentList(docs []*store.Document) {
	if len(docs) == 0 {
		w.Warning("No documents.")
		return
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			d.Slug,
			d.Name,
			strconv.Itoa(d.Version),
			strconv.Itoa(d.ChunkCount),
			EmbedState(d),
			d.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	w.table([]string{"SLUG", "NAME", "VER", "CHUNKS", "EMBEDDING", "UPDATED"}, rows)
}

// Versions prints superseded snapshots, newest first as given.
func (w *Writer) Versions(versions []store.DocumentVersion) {
	if len(versions) == 0 {
		w.Warning("No previous versions.")
		return
	}
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{
			strconv.Itoa(v.Version),
			v.CreatedAt.Format("2006-01-02 15:04"),
			v.CreatedBy,
			v.ChangeSummary,
			strconv.Itoa(len(v.Content)),
		})
	}
	w.table([]string{"VERSION", "REPLACED", "BY", "SUMMARY", "BYTES"}, rows)
}

// QueueStats prints background embedding counters.
func (w *Writer) QueueStats(st async.StatsSnapshot) {
	w.Statusf("", "embed queue: %d queued, %d running, %d completed, %d failed, %d rejected",
		st.Queued, st.Running, st.Completed, st.Failed, st.Rejected)
}

// SyncStats prints the outcome of a directory sync.
func (w *Writer) SyncStats(st watcher.SyncStats) {
	msg := fmt.Sprintf("%d upserted, %d deleted, %d skipped, %d failed",
		st.Upserted, st.Deleted, st.Skipped, st.Failed)
	if st.Failed > 0 {
		w.Warning(msg)
		return
	}
	w.Success(msg)
}

// Checks prints one line per preflight result followed by the summary.
func (w *Writer) Checks(results []preflight.Result, verbose bool) {
	for _, r := range results {
		line := fmt.Sprintf("%s %s: %s", r.Status, r.Name, r.Message)
		switch r.Status {
		case preflight.StatusPass:
			w.Success(line)
		case preflight.StatusWarn:
			w.Warning(line)
		default:
			w.Error(line)
		}
		if verbose && r.Details != "" {
			w.Println("      " + w.styles.Dim.Render(r.Details))
		}
	}
	w.Newline()
	w.Println(w.styles.Label.Render("Status: ") + strings.ToUpper(preflight.Summary(results)))
}
