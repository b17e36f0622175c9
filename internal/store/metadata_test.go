package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMetadata_ReservedKeysWinOverExtra(t *testing.T) {
	// Given: metadata whose Extra tries to override a reserved key
	m := ChunkMetadata{
		DocumentID: "doc-1",
		ChunkIndex: 2,
		Extra: map[string]any{
			KeyDocumentID: "spoofed",
			"team":        "billing",
		},
	}

	// When: flattened
	flat := m.Flatten()

	// Then: the typed field wins and the extension survives
	assert.Equal(t, "doc-1", flat[KeyDocumentID])
	assert.Equal(t, "billing", flat["team"])
	assert.Equal(t, 2, flat[KeyChunkIndex])
}

func TestChunkMetadata_EmptyOrganizationOmitted(t *testing.T) {
	flat := ChunkMetadata{DocumentID: "d"}.Flatten()
	_, present := flat[KeyOrganizationID]
	assert.False(t, present)
}

func TestChunkMetadata_JSONRoundTripKeepsTypes(t *testing.T) {
	in := ChunkMetadata{
		OrganizationID: "org-a",
		DocumentID:     "doc",
		ChunkIndex:     3,
		TotalChunks:    7,
		Text:           "hello",
		SourceName:     "Handbook",
		IngestedAt:     "2026-01-02T03:04:05Z",
		Extra:          map[string]any{"headerPath": "A > B"},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out ChunkMetadata
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, in.OrganizationID, out.OrganizationID)
	assert.Equal(t, 3, out.ChunkIndex)
	assert.Equal(t, 7, out.TotalChunks)
	assert.Equal(t, "A > B", out.Extra["headerPath"])
}

func TestChunkMetadata_Matches(t *testing.T) {
	m := ChunkMetadata{
		OrganizationID: "org-a",
		DocumentID:     "doc",
		ChunkIndex:     1,
		Extra:          map[string]any{"lang": "en", "draft": false},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", nil, true},
		{"organization", Filter{KeyOrganizationID: "org-a"}, true},
		{"other organization", Filter{KeyOrganizationID: "org-b"}, false},
		{"numeric loose", Filter{KeyChunkIndex: 1.0}, true},
		{"extension", Filter{"lang": "en"}, true},
		{"bool extension", Filter{"draft": false}, true},
		{"missing key", Filter{"region": "eu"}, false},
		{"conjunction", Filter{KeyDocumentID: "doc", "lang": "de"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.filter))
		})
	}
}

func TestChunkMetadata_EmptyOrganizationNeverMatchesEmptyFilter(t *testing.T) {
	// A legacy row without a tenant must not match organizationId = "".
	m := ChunkMetadata{DocumentID: "doc"}
	assert.False(t, m.Matches(Filter{KeyOrganizationID: ""}))
}

func TestFilter_WithCopies(t *testing.T) {
	base := Filter{"a": 1}
	next := base.With("b", 2)
	assert.Len(t, base, 1)
	assert.Len(t, next, 2)
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy"}, QueryTerms("What is the Refund policy? refund!"))
	assert.Empty(t, QueryTerms("the of and"))
	assert.Equal(t, `"a""b"`, ftsMatchExpr([]string{`a"b`}))
}
