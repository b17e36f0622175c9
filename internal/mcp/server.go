package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragkb/internal/async"
	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/documents"
	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/pkg/version"
)

const serverName = "ragkb"

// QueryService retrieves chunks and answers questions. *search.Engine
// satisfies it.
type QueryService interface {
	Query(ctx context.Context, text string, opts search.QueryOptions) ([]search.Result, error)
	Answer(ctx context.Context, question string, opts search.QueryOptions) (*search.Answer, error)
}

// DocumentService is the part of the document manager the tools use.
// *documents.Manager satisfies it.
type DocumentService interface {
	Create(ctx context.Context, in documents.CreateInput) (*store.Document, error)
	Get(ctx context.Context, ref string) (*store.Document, error)
	List(ctx context.Context, filter store.DocumentFilter) ([]*store.Document, error)
	Stats() async.StatsSnapshot
}

// Options configures the server.
type Options struct {
	// OrganizationID is used when a tool call names no organization.
	OrganizationID string
}

// Server bridges agents with the knowledge base.
type Server struct {
	mcp    *mcp.Server
	engine QueryService
	docs   DocumentService
	opts   Options
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "query",
		Description: "Search the knowledge base. Returns the most relevant chunks for a question or keywords. Use mode=hybrid when exact terms matter as much as meaning.",
	},
	{
		Name:        "ask",
		Description: "Answer a question from the knowledge base. Retrieves sources and has the language model answer using only them, citing sources by number.",
	},
	{
		Name:        "get_document",
		Description: "Fetch one document by id or slug, including its content, version and embedding state.",
	},
	{
		Name:        "list_documents",
		Description: "List documents, newest first, optionally filtered by organization, category or tag.",
	},
	{
		Name:        "create_document",
		Description: "Add a document. It is stored immediately and embedded in the background; check embedded_at with get_document.",
	},
}

// NewServer creates a new MCP server.
func NewServer(engine QueryService, docs DocumentService, opts Options) (*Server, error) {
	if engine == nil {
		return nil, errors.New("query service is required")
	}
	if docs == nil {
		return nil, errors.New("document service is required")
	}

	s := &Server{
		engine: engine,
		docs:   docs,
		opts:   opts,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Short()}, nil)
	s.registerTools()
	s.registerStatusResource()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Short()
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-style arguments and returns its
// structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "query":
		var in QueryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleQuery(ctx, in)
		return out, err
	case "ask":
		var in AskInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleAsk(ctx, in)
		return out, err
	case "get_document":
		var in GetDocumentInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleGetDocument(ctx, in)
		return out, err
	case "list_documents":
		var in ListDocumentsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleListDocuments(ctx, in)
		return out, err
	case "create_document":
		var in CreateDocumentInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleCreateDocument(ctx, in)
		return out, err
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// decodeArgs maps loosely typed arguments onto a tool input struct.
func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError("arguments are not JSON-encodable")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) organization(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.opts.OrganizationID
}

func (s *Server) handleQuery(ctx context.Context, in QueryInput) (*QueryOutput, string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	requestID := generateRequestID()

	opts := search.QueryOptions{
		OrganizationID: s.organization(in.OrganizationID),
		TopK:           clampLimit(in.TopK, search.DefaultTopK, 1, 50),
		MinScore:       in.MinScore,
		Filter:         store.Filter(in.Filter),
		Mode:           search.Mode(in.Mode),
		VectorWeight:   in.VectorWeight,
		Rerank:         in.Rerank,
	}
	if in.DocumentID != "" {
		opts.Filter = opts.Filter.With(store.KeyDocumentID, in.DocumentID)
	}

	results, err := s.engine.Query(ctx, in.Query, opts)
	if err != nil {
		s.logger.Error("query_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, "", MapError(err)
	}
	s.logger.Info("query_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(results)))

	out := &QueryOutput{Results: make([]ResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ToResultOutput(r))
	}
	return out, FormatQueryResults(in.Query, results), nil
}

func (s *Server) handleAsk(ctx context.Context, in AskInput) (*AskOutput, string, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, "", NewInvalidParamsError("question parameter is required")
	}
	answer, err := s.engine.Answer(ctx, in.Question, search.QueryOptions{
		OrganizationID: s.organization(in.OrganizationID),
		TopK:           clampLimit(in.TopK, search.DefaultTopK, 1, 20),
		Mode:           search.Mode(in.Mode),
		Rerank:         in.Rerank,
	})
	if err != nil {
		return nil, "", MapError(err)
	}

	out := &AskOutput{
		Answer:  answer.Text,
		Model:   answer.Model,
		Sources: make([]ResultOutput, 0, len(answer.Sources)),
	}
	for _, r := range answer.Sources {
		out.Sources = append(out.Sources, ToResultOutput(r))
	}
	return out, FormatAnswer(answer), nil
}

func (s *Server) handleGetDocument(ctx context.Context, in GetDocumentInput) (*DocumentOutput, string, error) {
	if strings.TrimSpace(in.Ref) == "" {
		return nil, "", NewInvalidParamsError("ref parameter is required")
	}
	doc, err := s.docs.Get(ctx, in.Ref)
	if err != nil {
		return nil, "", MapError(err)
	}
	out := ToDocumentOutput(doc, true)
	return &out, FormatDocument(doc), nil
}

func (s *Server) handleListDocuments(ctx context.Context, in ListDocumentsInput) (*ListDocumentsOutput, string, error) {
	docs, err := s.docs.List(ctx, store.DocumentFilter{
		OrganizationID: s.organization(in.OrganizationID),
		Category:       in.Category,
		Tag:            in.Tag,
		Limit:          clampLimit(in.Limit, 50, 1, 500),
		Offset:         max(in.Offset, 0),
	})
	if err != nil {
		return nil, "", MapError(err)
	}
	out := &ListDocumentsOutput{Documents: make([]DocumentOutput, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, ToDocumentOutput(d, false))
	}
	return out, FormatDocumentList(docs), nil
}

func (s *Server) handleCreateDocument(ctx context.Context, in CreateDocumentInput) (*DocumentOutput, string, error) {
	doc, err := s.docs.Create(ctx, documents.CreateInput{
		Slug:           in.Slug,
		Name:           in.Name,
		Description:    in.Description,
		Content:        in.Content,
		ContentType:    chunk.ContentType(in.ContentType),
		Category:       in.Category,
		Tags:           in.Tags,
		OrganizationID: s.organization(in.OrganizationID),
		CreatedBy:      serverName + "-mcp",
		OnConflict:     documents.ConflictPolicy(in.OnConflict),
	})
	if err != nil {
		return nil, "", MapError(err)
	}
	out := ToDocumentOutput(doc, false)
	return &out, fmt.Sprintf("Created `%s` (version %d). Embedding runs in the background.", doc.Slug, doc.Version), nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "query", Description: tools[0].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, *QueryOutput, error) {
			out, text, err := s.handleQuery(ctx, in)
			return textResult(out, text, err)
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "ask", Description: tools[1].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, *AskOutput, error) {
			out, text, err := s.handleAsk(ctx, in)
			return textResult(out, text, err)
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "get_document", Description: tools[2].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in GetDocumentInput) (*mcp.CallToolResult, *DocumentOutput, error) {
			out, text, err := s.handleGetDocument(ctx, in)
			return textResult(out, text, err)
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_documents", Description: tools[3].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ListDocumentsInput) (*mcp.CallToolResult, *ListDocumentsOutput, error) {
			out, text, err := s.handleListDocuments(ctx, in)
			return textResult(out, text, err)
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "create_document", Description: tools[4].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in CreateDocumentInput) (*mcp.CallToolResult, *DocumentOutput, error) {
			out, text, err := s.handleCreateDocument(ctx, in)
			return textResult(out, text, err)
		})

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// textResult pairs a structured output with its markdown rendering.
func textResult[T any](out *T, text string, err error) (*mcp.CallToolResult, *T, error) {
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// Serve runs the server on the given transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
