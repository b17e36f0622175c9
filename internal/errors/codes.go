// Package errors provides structured error handling for ragkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (SQLite, vector index, keyword index)
//   - 3XX: Provider errors (embedding and generative model calls)
//   - 4XX: Validation errors
//   - 5XX: Not found
//   - 6XX: Conflicts
//   - 70X: Degraded writes, 71X: background embedding, 72X: reranking
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryNotFound   Category = "NOT_FOUND"
	CategoryConflict   Category = "CONFLICT"
	// CategoryDegraded marks failures that only reduce recall quality.
	CategoryDegraded  Category = "DEGRADED"
	CategoryEmbedding Category = "EMBEDDING"
	CategoryRerank    Category = "RERANK"
	CategoryInternal  Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeStorage       = "ERR_201_STORAGE"
	ErrCodeStoreLocked   = "ERR_202_STORE_LOCKED"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeIndexNotFound = "ERR_204_INDEX_NOT_FOUND"

	// Provider errors (300-399)
	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout     = "ERR_302_PROVIDER_TIMEOUT"
	ErrCodeProviderResponse    = "ERR_303_PROVIDER_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidSlug       = "ERR_402_INVALID_SLUG"
	ErrCodeEmptyDocument     = "ERR_403_EMPTY_DOCUMENT"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_405_INVALID_QUERY"

	// Not found (500-599)
	ErrCodeDocumentNotFound = "ERR_501_DOCUMENT_NOT_FOUND"

	// Conflict (600-699)
	ErrCodeSlugConflict = "ERR_601_SLUG_CONFLICT"

	// Degraded (700-799)
	ErrCodeKeywordWrite     = "ERR_701_KEYWORD_WRITE"
	ErrCodeVectorCleanup    = "ERR_702_VECTOR_CLEANUP"
	ErrCodeKeywordCleanup   = "ERR_703_KEYWORD_CLEANUP"
	ErrCodeBackgroundEmbed  = "ERR_711_BACKGROUND_EMBED"
	ErrCodeEmbedQueueFull   = "ERR_712_EMBED_QUEUE_FULL"
	ErrCodeRerankFailed     = "ERR_721_RERANK_FAILED"
	ErrCodeRerankUnparsable = "ERR_722_RERANK_UNPARSABLE"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_INVALID")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	case '5':
		return CategoryNotFound
	case '6':
		return CategoryConflict
	case '7':
		switch numStr[1] {
		case '1':
			return CategoryEmbedding
		case '2':
			return CategoryRerank
		default:
			return CategoryDegraded
		}
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	switch categoryFromCode(code) {
	case CategoryDegraded, CategoryEmbedding, CategoryRerank:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderUnavailable, ErrCodeProviderTimeout, ErrCodeStoreLocked:
		return true
	default:
		return false
	}
}
