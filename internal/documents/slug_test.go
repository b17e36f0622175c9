package documents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestNormalizeSlug(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"My Doc!!", "my-doc"},
		{"my-doc", "my-doc"},
		{"MY_DOC", "my-doc"},
		{"  --Refund   Policy 2024-- ", "refund-policy-2024"},
		{"café menu", "caf-menu"},
		{"a", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeSlug(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSlug_Empty(t *testing.T) {
	for _, input := range []string{"", "!!!", "---", "   "} {
		_, err := NormalizeSlug(input)
		require.Error(t, err, input)
		assert.True(t, kberrors.IsValidation(err))
		assert.Equal(t, kberrors.ErrCodeInvalidSlug, kberrors.GetCode(err))
	}
}
