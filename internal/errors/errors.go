package errors

import (
	stderrors "errors"
	"fmt"
)

// KBError is the structured error type for ragkb.
// It provides rich context for error handling, logging, and user presentation.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_402_INVALID_SLUG").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with KBError.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// The error's message becomes the KBError message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a storage-related error.
func StorageError(message string, cause error) *KBError {
	return New(ErrCodeStorage, message, cause)
}

// ProviderError creates an error for a failed embedding or generation call.
// Unavailable providers are retryable, malformed responses are not.
func ProviderError(code string, message string, cause error) *KBError {
	return New(code, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *KBError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InvalidSlugError reports a slug that normalizes to nothing.
func InvalidSlugError(input string) *KBError {
	return New(ErrCodeInvalidSlug, fmt.Sprintf("slug %q normalizes to an empty value", input), nil).
		WithDetail("input", input).
		WithSuggestion("use a name or slug containing at least one letter or digit")
}

// EmptyDocumentError reports content that produced no chunks.
func EmptyDocumentError(source string) *KBError {
	return New(ErrCodeEmptyDocument, "document produced no chunks", nil).
		WithDetail("source", source)
}

// NotFoundError creates a not-found error for the given document reference.
func NotFoundError(ref string) *KBError {
	return New(ErrCodeDocumentNotFound, fmt.Sprintf("document %q not found", ref), nil).
		WithDetail("ref", ref)
}

// ConflictError creates a slug conflict error.
func ConflictError(slug string) *KBError {
	return New(ErrCodeSlugConflict, fmt.Sprintf("document with slug %q already exists", slug), nil).
		WithDetail("slug", slug).
		WithSuggestion("pass onConflict=skip or onConflict=update")
}

// DegradedWrite creates a warning for a secondary write that failed without
// failing the operation.
func DegradedWrite(code string, message string, cause error) *KBError {
	return New(code, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Severity == SeverityFatal
	}
	return false
}

// IsValidation reports whether err is in the validation category.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return GetCategory(err) == CategoryNotFound
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return GetCategory(err) == CategoryConflict
}

// IsDegraded reports whether err only degrades recall quality.
func IsDegraded(err error) bool {
	switch GetCategory(err) {
	case CategoryDegraded, CategoryEmbedding, CategoryRerank:
		return true
	}
	return false
}

// As finds the first KBError in err's chain.
func As(err error) (*KBError, bool) {
	if err == nil {
		return nil, false
	}
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// GetCode extracts the error code from a KBError.
// Returns empty string if err carries no KBError.
func GetCode(err error) string {
	if ke, ok := As(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category from a KBError.
func GetCategory(err error) Category {
	if ke, ok := As(err); ok {
		return ke.Category
	}
	return ""
}
