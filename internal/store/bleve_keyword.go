package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

const (
	// ChunkAnalyzerName indexes prose: unicode words, lowercased, stop words
	// removed, porter-stemmed.
	ChunkAnalyzerName = "chunk_analyzer"

	// ChunkStopFilterName drops the same stop words QueryTerms drops.
	ChunkStopFilterName = "chunk_stop"

	bleveDeletePage = 500
)

func init() {
	_ = registry.RegisterTokenFilter(ChunkStopFilterName, chunkStopFilterConstructor)
}

// BleveKeywordStore implements KeywordStore on a bleve index. Tenant and
// document scoping use exact-match keyword fields; other filter keys are
// checked against the stored metadata after the search.
type BleveKeywordStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ KeywordStore = (*BleveKeywordStore)(nil)

// bleveChunk is the indexed form of a KeywordChunk. Field names come from
// the json tags.
type bleveChunk struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
	ChunkIndex     int    `json:"chunkIndex"`
	Text           string `json:"text"`
	SourceName     string `json:"sourceName"`
	Metadata       string `json:"metadata"`
	CreatedAt      string `json:"createdAt"`
}

var bleveTermFields = map[string]bool{
	KeyOrganizationID: true,
	KeyDocumentID:     true,
	KeySourceName:     true,
}

// NewBleveKeywordStore opens or creates a bleve index at path, or an
// in-memory index when path is empty. Corrupted indexes are cleared.
func NewBleveKeywordStore(path string) (*BleveKeywordStore, error) {
	indexMapping, err := chunkIndexMapping()
	if err != nil {
		return nil, kberrors.InternalError("failed to build keyword index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, kberrors.StorageError("failed to create keyword index directory", err)
		}
		if verr := validateBleveIntegrity(path); verr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", verr.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "keyword index corrupted and cannot be removed", err).
					WithDetail("path", path)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "keyword index corrupted and cannot be removed", rmErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, kberrors.StorageError("failed to open keyword index", err)
	}
	return &BleveKeywordStore{index: idx, path: path}, nil
}

func chunkIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(ChunkAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			ChunkStopFilterName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add chunk analyzer: %w", err)
	}

	keywordField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		return f
	}
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = ChunkAnalyzerName
	textField.Store = true
	numField := bleve.NewNumericFieldMapping()
	numField.Store = true
	storedOnly := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Index = false
		f.Store = true
		return f
	}

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(KeyDocumentID, keywordField())
	doc.AddFieldMappingsAt(KeyOrganizationID, keywordField())
	doc.AddFieldMappingsAt(KeySourceName, keywordField())
	doc.AddFieldMappingsAt(KeyChunkIndex, numField)
	doc.AddFieldMappingsAt(KeyText, textField)
	doc.AddFieldMappingsAt("metadata", storedOnly())
	doc.AddFieldMappingsAt("createdAt", storedOnly())

	im.DefaultMapping = doc
	im.DefaultAnalyzer = ChunkAnalyzerName
	return im, nil
}

func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// InsertChunks indexes chunks whose ids are not already present.
func (b *BleveKeywordStore) InsertChunks(_ context.Context, chunks []KeywordChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}

	batch := b.index.NewBatch()
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if existing, err := b.index.Document(c.ID); err == nil && existing != nil {
			continue
		}

		meta, err := json.Marshal(orEmpty(c.Metadata))
		if err != nil {
			return 0, kberrors.ValidationError(fmt.Sprintf("chunk %s metadata is not JSON-encodable", c.ID), err)
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		doc := bleveChunk{
			DocumentID:     c.DocumentID,
			OrganizationID: c.OrganizationID,
			ChunkIndex:     c.ChunkIndex,
			Text:           c.Text,
			SourceName:     c.SourceName,
			Metadata:       string(meta),
			CreatedAt:      created.UTC().Format(time.RFC3339Nano),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return 0, kberrors.StorageError(fmt.Sprintf("failed to index chunk %s", c.ID), err)
		}
	}

	n := batch.Size()
	if n == 0 {
		return 0, nil
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, kberrors.StorageError("failed to write keyword batch", err)
	}
	return n, nil
}

// Search runs an AND match over the text field, scoped by term queries.
func (b *BleveKeywordStore) Search(ctx context.Context, text string, q KeywordQuery) ([]KeywordHit, error) {
	if len(QueryTerms(text)) == 0 {
		return []KeywordHit{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(text)
	match.SetField(KeyText)
	match.SetOperator(query.MatchQueryOperatorAnd)
	clauses := []query.Query{match}

	if q.OrganizationID != "" {
		clauses = append(clauses, termQuery(KeyOrganizationID, q.OrganizationID))
	}
	post := Filter{}
	for key, value := range q.Filter {
		if key == KeyOrganizationID && q.OrganizationID != "" {
			continue
		}
		if bleveTermFields[key] {
			clauses = append(clauses, termQuery(key, fmt.Sprint(value)))
			continue
		}
		post[key] = value
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(clauses...))
	req.Size = limit
	if len(post) > 0 {
		req.Size = limit * 10
	}
	req.Fields = []string{"*"}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, kberrors.StorageError("keyword store is closed", nil)
	}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, kberrors.StorageError("keyword search failed", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		chunk := chunkFromFields(h.ID, h.Fields)
		if len(post) > 0 && !MetadataFromMap(chunkFilterView(chunk)).Matches(post) {
			continue
		}
		hits = append(hits, KeywordHit{Chunk: chunk, Score: h.Score})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func termQuery(field, value string) query.Query {
	t := bleve.NewTermQuery(value)
	t.SetField(field)
	return t
}

func chunkFromFields(id string, fields map[string]interface{}) KeywordChunk {
	c := KeywordChunk{ID: id}
	c.DocumentID, _ = fields[KeyDocumentID].(string)
	c.OrganizationID, _ = fields[KeyOrganizationID].(string)
	c.SourceName, _ = fields[KeySourceName].(string)
	c.Text, _ = fields[KeyText].(string)
	if idx, ok := fields[KeyChunkIndex].(float64); ok {
		c.ChunkIndex = int(idx)
	}
	if meta, ok := fields["metadata"].(string); ok && meta != "" {
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
	}
	if created, ok := fields["createdAt"].(string); ok {
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	return c
}

// chunkFilterView is the map a filter is evaluated against: the stored
// metadata overlaid with the row's reserved columns.
func chunkFilterView(c KeywordChunk) map[string]any {
	view := make(map[string]any, len(c.Metadata)+4)
	for k, v := range c.Metadata {
		view[k] = v
	}
	view[KeyDocumentID] = c.DocumentID
	view[KeyChunkIndex] = c.ChunkIndex
	view[KeySourceName] = c.SourceName
	if c.OrganizationID != "" {
		view[KeyOrganizationID] = c.OrganizationID
	}
	return view
}

// DeleteByDocument deletes every chunk of documentID, a page at a time.
func (b *BleveKeywordStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}

	deleted := 0
	for {
		req := bleve.NewSearchRequest(termQuery(KeyDocumentID, documentID))
		req.Size = bleveDeletePage
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return deleted, kberrors.StorageError("failed to find document chunks", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}
		batch := b.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return deleted, kberrors.StorageError("failed to delete document chunks", err)
		}
		deleted += len(res.Hits)
	}
}

// Count returns the number of indexed chunks.
func (b *BleveKeywordStore) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, kberrors.StorageError("failed to count chunks", err)
	}
	return int(n), nil
}

// Close closes the index. Bleve persists writes as they happen.
func (b *BleveKeywordStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func chunkStopFilterConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	return chunkStopFilter{}, nil
}

type chunkStopFilter struct{}

func (chunkStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, stop := queryStopWords[string(tok.Term)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
