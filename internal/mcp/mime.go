package mcp

import "github.com/Aman-CERP/ragkb/internal/chunk"

// mimeTypes maps document content types to MIME types.
var mimeTypes = map[chunk.ContentType]string{
	chunk.ContentTypePlain:    "text/plain",
	chunk.ContentTypeMarkdown: "text/markdown",
	chunk.ContentTypeHTML:     "text/html",
	chunk.ContentTypeJSON:     "application/json",
}

// MimeTypeForContentType returns the MIME type of a document body,
// defaulting to text/plain.
func MimeTypeForContentType(ct string) string {
	if mime, ok := mimeTypes[chunk.ContentType(ct)]; ok {
		return mime
	}
	return "text/plain"
}
