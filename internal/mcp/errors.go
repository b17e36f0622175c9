// Package mcp exposes the knowledge base to agents over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexUnavailable indicates a store could not be read.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeProviderFailed indicates the embedding or generation model
	// failed.
	ErrCodeProviderFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates an unknown document id or slug.
	ErrCodeDocumentNotFound = -32004

	// ErrCodeConflict indicates the slug is already taken.
	ErrCodeConflict = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if ke, ok := kberrors.As(err); ok {
		return mapKBError(ke)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeDocumentNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapKBError(ke *kberrors.KBError) *MCPError {
	message := ke.Message
	if ke.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ke.Message, ke.Suggestion)
	}

	code := ErrCodeInternalError
	switch ke.Category {
	case kberrors.CategoryValidation:
		code = ErrCodeInvalidParams
	case kberrors.CategoryNotFound:
		code = ErrCodeDocumentNotFound
	case kberrors.CategoryConflict:
		code = ErrCodeConflict
	case kberrors.CategoryProvider, kberrors.CategoryEmbedding, kberrors.CategoryRerank:
		code = ErrCodeProviderFailed
		if ke.Code == kberrors.ErrCodeProviderTimeout {
			code = ErrCodeTimeout
		}
	case kberrors.CategoryStorage:
		code = ErrCodeIndexUnavailable
	}
	return &MCPError{Code: code, Message: message}
}
