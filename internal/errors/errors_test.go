package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKBError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk I/O error")

	// When: wrapping with KBError
	kbErr := StorageError("insert chunk rows", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, kbErr)
	assert.Equal(t, originalErr, errors.Unwrap(kbErr))
	assert.True(t, errors.Is(kbErr, originalErr))
}

func TestKBError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(ErrCodeSlugConflict, "slug taken", nil)
	assert.Equal(t, "[ERR_601_SLUG_CONFLICT] slug taken", err.Error())
}

func TestKBError_Is_MatchesByCode(t *testing.T) {
	err1 := NotFoundError("a")
	err2 := NotFoundError("b")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, ConflictError("a")))
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeStorage, CategoryStorage},
		{ErrCodeProviderTimeout, CategoryProvider},
		{ErrCodeInvalidSlug, CategoryValidation},
		{ErrCodeEmptyDocument, CategoryValidation},
		{ErrCodeDocumentNotFound, CategoryNotFound},
		{ErrCodeSlugConflict, CategoryConflict},
		{ErrCodeKeywordWrite, CategoryDegraded},
		{ErrCodeVectorCleanup, CategoryDegraded},
		{ErrCodeBackgroundEmbed, CategoryEmbedding},
		{ErrCodeRerankFailed, CategoryRerank},
		{ErrCodeInternal, CategoryInternal},
		{"bogus", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, categoryFromCode(tt.code))
		})
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("create document: %w", InvalidSlugError("!!"))

	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, ErrCodeInvalidSlug, GetCode(wrapped))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", NotFoundError("x"))))
	assert.True(t, IsConflict(ConflictError("x")))
	assert.True(t, IsDegraded(DegradedWrite(ErrCodeKeywordWrite, "fts insert failed", nil)))
	assert.False(t, IsDegraded(errors.New("plain")))
}

func TestSeverity_DegradedIsWarning(t *testing.T) {
	assert.Equal(t, SeverityWarning, New(ErrCodeKeywordWrite, "x", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeRerankFailed, "x", nil).Severity)
	assert.Equal(t, SeverityFatal, New(ErrCodeCorruptIndex, "x", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeInvalidInput, "x", nil).Severity)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeProviderUnavailable, "down", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("embed: %w", New(ErrCodeProviderTimeout, "slow", nil))))
	assert.False(t, IsRetryable(New(ErrCodeProviderResponse, "bad json", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestFormatForCLI_IncludesHint(t *testing.T) {
	out := FormatForCLI(ConflictError("my-doc"))

	assert.Contains(t, out, "already exists")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, ErrCodeSlugConflict)
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, ErrCodeInternal)
}
