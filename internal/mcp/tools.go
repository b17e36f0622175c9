package mcp

import (
	"time"

	"github.com/Aman-CERP/ragkb/internal/store"
)

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query          string         `json:"query" jsonschema:"the question or keywords to search for"`
	OrganizationID string         `json:"organization_id,omitempty" jsonschema:"tenant to search within"`
	TopK           int            `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5"`
	MinScore       *float64       `json:"min_score,omitempty" jsonschema:"minimum vector similarity, default 0.5"`
	Mode           string         `json:"mode,omitempty" jsonschema:"retrieval mode: vector, keyword or hybrid"`
	VectorWeight   *float64       `json:"vector_weight,omitempty" jsonschema:"hybrid weight of the vector list between 0 and 1"`
	Rerank         bool           `json:"rerank,omitempty" jsonschema:"rerank candidates with the language model"`
	DocumentID     string         `json:"document_id,omitempty" jsonschema:"restrict results to one document slug"`
	Filter         map[string]any `json:"filter,omitempty" jsonschema:"extra metadata equality filters"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"retrieved chunks, best first"`
}

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question       string `json:"question" jsonschema:"the question to answer from the knowledge base"`
	OrganizationID string `json:"organization_id,omitempty" jsonschema:"tenant to search within"`
	TopK           int    `json:"top_k,omitempty" jsonschema:"number of sources to give the model, default 5"`
	Mode           string `json:"mode,omitempty" jsonschema:"retrieval mode: vector, keyword or hybrid"`
	Rerank         bool   `json:"rerank,omitempty" jsonschema:"rerank candidates before answering"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer  string         `json:"answer" jsonschema:"the generated answer"`
	Model   string         `json:"model,omitempty" jsonschema:"model that produced the answer"`
	Sources []ResultOutput `json:"sources" jsonschema:"chunks the answer was grounded on"`
}

// GetDocumentInput defines the input schema for the get_document tool.
type GetDocumentInput struct {
	Ref string `json:"ref" jsonschema:"document id or slug"`
}

// ListDocumentsInput defines the input schema for the list_documents tool.
type ListDocumentsInput struct {
	OrganizationID string `json:"organization_id,omitempty" jsonschema:"only documents of this tenant"`
	Category       string `json:"category,omitempty" jsonschema:"only documents in this category"`
	Tag            string `json:"tag,omitempty" jsonschema:"only documents carrying this tag"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of documents, default 50"`
	Offset         int    `json:"offset,omitempty" jsonschema:"number of documents to skip"`
}

// ListDocumentsOutput defines the output schema for the list_documents tool.
type ListDocumentsOutput struct {
	Documents []DocumentOutput `json:"documents"`
}

// CreateDocumentInput defines the input schema for the create_document tool.
type CreateDocumentInput struct {
	Name           string   `json:"name" jsonschema:"display name; the slug is derived from it when slug is empty"`
	Slug           string   `json:"slug,omitempty" jsonschema:"unique URL-safe identifier"`
	Content        string   `json:"content" jsonschema:"document body"`
	ContentType    string   `json:"content_type,omitempty" jsonschema:"plain, markdown, html or json"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty" jsonschema:"owning tenant"`
	OnConflict     string   `json:"on_conflict,omitempty" jsonschema:"error, skip or update when the slug exists"`
}

// DocumentOutput is the structured form of a document.
type DocumentOutput struct {
	ID             string   `json:"id"`
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Content        string   `json:"content,omitempty"`
	ContentType    string   `json:"content_type"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Version        int      `json:"version"`
	ChunkCount     int      `json:"chunk_count"`
	EmbeddedAt     string   `json:"embedded_at,omitempty" jsonschema:"empty until the first successful embedding"`
	LastEmbedError string   `json:"last_embed_error,omitempty"`
}

// ToDocumentOutput converts a document. Content is left out unless
// withContent is set.
func ToDocumentOutput(doc *store.Document, withContent bool) DocumentOutput {
	out := DocumentOutput{
		ID:             doc.ID,
		Slug:           doc.Slug,
		Name:           doc.Name,
		Description:    doc.Description,
		ContentType:    doc.ContentType,
		Category:       doc.Category,
		Tags:           doc.Tags,
		OrganizationID: doc.OrganizationID,
		Version:        doc.Version,
		ChunkCount:     doc.ChunkCount,
		LastEmbedError: doc.LastEmbedError,
	}
	if withContent {
		out.Content = doc.Content
	}
	if doc.EmbeddedAt != nil {
		out.EmbeddedAt = doc.EmbeddedAt.UTC().Format(time.RFC3339)
	}
	return out
}
