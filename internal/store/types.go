// Package store holds the persistence adapters behind the knowledge base:
// the HNSW vector index, the full-text keyword stores (SQLite FTS5 and
// bleve) and the SQLite document repository.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Reserved chunk metadata keys. These always win over caller extensions
// with the same name.
const (
	KeyOrganizationID = "organizationId"
	KeyDocumentID     = "documentId"
	KeyChunkIndex     = "chunkIndex"
	KeyTotalChunks    = "totalChunks"
	KeyText           = "text"
	KeySourceName     = "sourceName"
	KeyIngestedAt     = "ingestedAt"
)

var reservedKeys = map[string]bool{
	KeyOrganizationID: true,
	KeyDocumentID:     true,
	KeyChunkIndex:     true,
	KeyTotalChunks:    true,
	KeyText:           true,
	KeySourceName:     true,
	KeyIngestedAt:     true,
}

// IsReservedKey reports whether key is one of the typed ChunkMetadata fields.
func IsReservedKey(key string) bool {
	return reservedKeys[key]
}

// ChunkMetadata is the metadata stored with every vector. Reserved fields are
// typed; everything else from the caller and the chunker lives in Extra.
type ChunkMetadata struct {
	OrganizationID string
	DocumentID     string
	ChunkIndex     int
	TotalChunks    int
	Text           string
	SourceName     string
	IngestedAt     string
	Extra          map[string]any
}

// Get returns the value for key, consulting reserved fields first.
func (m ChunkMetadata) Get(key string) (any, bool) {
	switch key {
	case KeyOrganizationID:
		return m.OrganizationID, m.OrganizationID != ""
	case KeyDocumentID:
		return m.DocumentID, true
	case KeyChunkIndex:
		return m.ChunkIndex, true
	case KeyTotalChunks:
		return m.TotalChunks, true
	case KeyText:
		return m.Text, true
	case KeySourceName:
		return m.SourceName, true
	case KeyIngestedAt:
		return m.IngestedAt, true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Flatten merges Extra and the reserved fields into one map.
// An empty organization is omitted rather than written as "".
func (m ChunkMetadata) Flatten() map[string]any {
	out := make(map[string]any, len(m.Extra)+len(reservedKeys))
	for k, v := range m.Extra {
		if !reservedKeys[k] {
			out[k] = v
		}
	}
	if m.OrganizationID != "" {
		out[KeyOrganizationID] = m.OrganizationID
	}
	out[KeyDocumentID] = m.DocumentID
	out[KeyChunkIndex] = m.ChunkIndex
	out[KeyTotalChunks] = m.TotalChunks
	out[KeyText] = m.Text
	out[KeySourceName] = m.SourceName
	out[KeyIngestedAt] = m.IngestedAt
	return out
}

// MetadataFromMap splits a flat map into reserved fields and Extra.
func MetadataFromMap(in map[string]any) ChunkMetadata {
	m := ChunkMetadata{Extra: make(map[string]any)}
	for k, v := range in {
		switch k {
		case KeyOrganizationID:
			m.OrganizationID = asString(v)
		case KeyDocumentID:
			m.DocumentID = asString(v)
		case KeyChunkIndex:
			m.ChunkIndex = asInt(v)
		case KeyTotalChunks:
			m.TotalChunks = asInt(v)
		case KeyText:
			m.Text = asString(v)
		case KeySourceName:
			m.SourceName = asString(v)
		case KeyIngestedAt:
			m.IngestedAt = asString(v)
		default:
			m.Extra[k] = v
		}
	}
	return m
}

// MarshalJSON writes the flattened form.
func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Flatten())
}

// UnmarshalJSON reads the flattened form.
func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*m = MetadataFromMap(flat)
	return nil
}

// Matches reports whether every filter entry equals the metadata value.
func (m ChunkMetadata) Matches(f Filter) bool {
	for k, want := range f {
		got, ok := m.Get(k)
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	default:
		return 0
	}
}

// valuesEqual compares filter values loosely so 3, int64(3) and 3.0 match
// after a JSON round trip.
func valuesEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Filter is a conjunction of metadata equality predicates.
type Filter map[string]any

// With returns a copy of f with key set to value.
func (f Filter) With(key string, value any) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[key] = value
	return out
}

// VectorRecord is one embedded chunk.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata ChunkMetadata
}

// VectorMatch is a similarity query hit. Score is cosine similarity for
// cosine indexes, higher is better.
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata ChunkMetadata
}

// VectorQuery describes a similarity query.
type VectorQuery struct {
	Vector []float32
	TopK   int
	Filter Filter
	// MinScore drops matches below this similarity. Zero keeps everything.
	MinScore float32
}

// Supported vector metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// IndexSpec describes a vector index to create.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
}

// IndexInfo describes an existing vector index.
type IndexInfo struct {
	Name      string
	Dimension int
	Metric    string
	Count     int

	// Orphans counts deleted or replaced vectors still held by the
	// index structure. Stores that delete eagerly report zero.
	Orphans int
}

// VectorStore stores embeddings in named indexes and queries them by
// similarity with metadata filters.
type VectorStore interface {
	ListIndexes(ctx context.Context) ([]string, error)

	// CreateIndex fails if the index already exists.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// DescribeIndex returns an ErrCodeIndexNotFound error for unknown indexes.
	DescribeIndex(ctx context.Context, name string) (IndexInfo, error)

	// Upsert replaces records with matching ids.
	Upsert(ctx context.Context, index string, records []VectorRecord) error

	Query(ctx context.Context, index string, q VectorQuery) ([]VectorMatch, error)

	// DeleteVectors removes every record whose metadata matches filter and
	// returns how many were removed. An empty filter is rejected.
	DeleteVectors(ctx context.Context, index string, filter Filter) (int, error)

	Close() error
}

// KeywordChunk is one row of the keyword store's chunk table.
type KeywordChunk struct {
	ID             string
	DocumentID     string
	OrganizationID string
	ChunkIndex     int
	Text           string
	SourceName     string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// KeywordQuery scopes a full-text search. An empty OrganizationID means no
// tenant predicate at all.
type KeywordQuery struct {
	OrganizationID string
	Filter         Filter
	Limit          int
}

// KeywordHit is a ranked full-text match. Higher Score is more relevant.
type KeywordHit struct {
	Chunk KeywordChunk
	Score float64
}

// KeywordStore is the lexical half of hybrid retrieval.
type KeywordStore interface {
	// InsertChunks skips rows whose id already exists and returns how many
	// rows were written.
	InsertChunks(ctx context.Context, chunks []KeywordChunk) (int, error)

	Search(ctx context.Context, text string, q KeywordQuery) ([]KeywordHit, error)

	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	Count(ctx context.Context) (int, error)

	Close() error
}

// Document is the relational record managed by the lifecycle manager.
type Document struct {
	ID             string         `json:"id"`
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Content        string         `json:"content"`
	ContentType    string         `json:"contentType"`
	Category       string         `json:"category,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	WorkspaceID    string         `json:"workspaceId,omitempty"`
	CreatedBy      string         `json:"createdBy,omitempty"`
	Version        int            `json:"version"`
	VectorIDs      []string       `json:"vectorIds"`
	ChunkCount     int            `json:"chunkCount"`
	EmbeddedAt     *time.Time     `json:"embeddedAt"`
	LastEmbedError string         `json:"lastEmbedError,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DocumentVersion is an immutable snapshot of superseded content.
type DocumentVersion struct {
	DocumentID    string    `json:"documentId"`
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ChangeSummary string    `json:"changeSummary,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DocumentFilter narrows ListDocuments. Empty fields are ignored.
type DocumentFilter struct {
	OrganizationID string
	WorkspaceID    string
	Category       string
	Tag            string
	Limit          int
	Offset         int
}

// EmbedResult is the outcome of one embedding cycle for a document.
type EmbedResult struct {
	VectorIDs  []string
	EmbeddedAt *time.Time
	Err        string
}

// DocumentStore persists documents and their version history.
type DocumentStore interface {
	// InsertDocument returns a conflict error when the slug is taken.
	InsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentBySlug(ctx context.Context, slug string) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)

	// UpdateMetadata writes the descriptive fields only.
	UpdateMetadata(ctx context.Context, doc *Document) error

	// CommitContentUpdate appends snapshot and writes the new content,
	// version and embedding fields in one transaction.
	CommitContentUpdate(ctx context.Context, doc *Document, snapshot DocumentVersion) error

	// SetEmbedResult records a background or maintenance embedding cycle.
	SetEmbedResult(ctx context.Context, id string, res EmbedResult) error

	// DeleteDocument removes the row; versions go with it.
	DeleteDocument(ctx context.Context, id string) error

	ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error)

	Close() error
}

// IndexNotFound builds the error returned for unknown vector indexes.
func IndexNotFound(name string) error {
	return kberrors.New(kberrors.ErrCodeIndexNotFound, fmt.Sprintf("vector index %q does not exist", name), nil)
}

// IsIndexNotFound reports whether err is an unknown-index error.
func IsIndexNotFound(err error) bool {
	return kberrors.GetCode(err) == kberrors.ErrCodeIndexNotFound
}
