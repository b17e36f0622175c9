package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragkb/internal/async"
	"github.com/Aman-CERP/ragkb/internal/store"
)

const statusURI = "ragkb://status"

// MaxResourceDocuments caps how many documents RegisterDocumentResources
// publishes.
const MaxResourceDocuments = 1000

// StatusOutput is the JSON structure of the status resource.
type StatusOutput struct {
	Version    string              `json:"version"`
	Documents  int                 `json:"documents"`
	EmbedQueue async.StatsSnapshot `json:"embed_queue"`
}

// RegisterDocumentResources publishes each document as a resource whose
// contents are the document body. Documents created later are reachable
// through get_document.
func (s *Server) RegisterDocumentResources(ctx context.Context) error {
	docs, err := s.docs.List(ctx, store.DocumentFilter{
		OrganizationID: s.opts.OrganizationID,
		Limit:          MaxResourceDocuments,
	})
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	for _, d := range docs {
		s.registerDocumentResource(d)
	}
	s.logger.Info("mcp_resources_registered", "count", len(docs))
	return nil
}

func documentURI(slug string) string {
	return "ragkb://documents/" + slug
}

func (s *Server) registerDocumentResource(doc *store.Document) {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        doc.Slug,
			URI:         documentURI(doc.Slug),
			Description: fmt.Sprintf("%s (version %d)", doc.Name, doc.Version),
			MIMEType:    MimeTypeForContentType(doc.ContentType),
		},
		s.makeDocumentHandler(doc.Slug),
	)
}

func (s *Server) makeDocumentHandler(slug string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocument(ctx, slug)
	}
}

// readDocument loads the current content, so a resource registered at
// startup still reflects later updates.
func (s *Server) readDocument(ctx context.Context, slug string) (*mcp.ReadResourceResult, error) {
	doc, err := s.docs.Get(ctx, slug)
	if err != nil {
		if mapped := MapError(err); mapped.Code == ErrCodeDocumentNotFound {
			return nil, NewResourceNotFoundError(documentURI(slug))
		}
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      documentURI(doc.Slug),
			MIMEType: MimeTypeForContentType(doc.ContentType),
			Text:     doc.Content,
		}},
	}, nil
}

func (s *Server) registerStatusResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         statusURI,
			Description: "Document count and background embedding queue",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readStatus(ctx)
		},
	)
}

func (s *Server) readStatus(ctx context.Context) (*mcp.ReadResourceResult, error) {
	docs, err := s.docs.List(ctx, store.DocumentFilter{OrganizationID: s.opts.OrganizationID})
	if err != nil {
		return nil, MapError(err)
	}
	_, ver := s.Info()
	content, err := json.MarshalIndent(StatusOutput{
		Version:    ver,
		Documents:  len(docs),
		EmbedQueue: s.docs.Stats(),
	}, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      statusURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
