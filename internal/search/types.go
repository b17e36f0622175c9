// Package search answers queries over the knowledge base: vector, keyword or
// hybrid retrieval fused with Reciprocal Rank Fusion, an optional LLM rerank
// and RAG answer synthesis.
package search

import (
	"encoding/json"
	"fmt"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// Mode selects the retrieval path.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeVector, ModeKeyword, ModeHybrid:
		return true
	}
	return false
}

// Query defaults.
const (
	DefaultTopK         = 5
	DefaultMinScore     = 0.5
	DefaultVectorWeight = 0.5
	DefaultMode         = ModeVector
)

// QueryOptions configures one query. Zero values take the engine defaults;
// MinScore and VectorWeight are pointers because zero is meaningful for both.
type QueryOptions struct {
	// OrganizationID scopes retrieval to one tenant. Empty means unscoped.
	OrganizationID string

	TopK int

	// MinScore is a floor on vector similarity. It does not apply to
	// keyword relevance, which is on a different scale.
	MinScore *float64

	// Filter holds extra equality constraints on chunk metadata.
	Filter store.Filter

	Mode Mode

	// VectorWeight is the RRF weight of the vector list in hybrid mode; the
	// keyword list gets 1-VectorWeight.
	VectorWeight *float64

	Rerank      bool
	RerankModel string
}

// Float returns a pointer to v, for QueryOptions fields.
func Float(v float64) *float64 {
	return &v
}

// Result is one retrieved chunk.
type Result struct {
	ID string `json:"id"`

	// Score is the ranking score for the mode: similarity for vector,
	// relevance for keyword, the fused RRF score for hybrid.
	Score float64 `json:"score"`

	Text     string              `json:"text"`
	Metadata store.ChunkMetadata `json:"metadata"`

	VectorScore  float64 `json:"vectorScore,omitempty"`
	KeywordScore float64 `json:"keywordScore,omitempty"`

	// VectorRank and KeywordRank are 0-based positions in each list, -1
	// when absent.
	VectorRank  int `json:"vectorRank"`
	KeywordRank int `json:"keywordRank"`

	Reranked bool `json:"reranked,omitempty"`
}

// DocumentID returns the chunk's document.
func (r Result) DocumentID() string {
	return r.Metadata.DocumentID
}

// Answer is a generated response with the chunks it was grounded on.
type Answer struct {
	Question string   `json:"question"`
	Text     string   `json:"answer"`
	Model    string   `json:"model"`
	Sources  []Result `json:"sources"`
}

// normalize applies defaults and validates. An organization given only
// through the filter is promoted, scalars in their printed form; an empty
// one is dropped and any other value is rejected.
func (o QueryOptions) normalize(defaults QueryOptions) (QueryOptions, error) {
	if o.TopK == 0 {
		o.TopK = defaults.TopK
	}
	if o.MinScore == nil {
		o.MinScore = defaults.MinScore
	}
	if o.VectorWeight == nil {
		o.VectorWeight = defaults.VectorWeight
	}
	if o.Mode == "" {
		o.Mode = defaults.Mode
	}

	if o.TopK <= 0 {
		return o, kberrors.New(kberrors.ErrCodeInvalidQuery, fmt.Sprintf("topK must be positive, got %d", o.TopK), nil)
	}
	if !o.Mode.Valid() {
		return o, kberrors.New(kberrors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown mode %q", o.Mode), nil).
			WithSuggestion("use vector, keyword or hybrid")
	}
	if w := *o.VectorWeight; w < 0 || w > 1 {
		return o, kberrors.New(kberrors.ErrCodeInvalidQuery,
			fmt.Sprintf("vector weight must be in [0, 1], got %g", w), nil)
	}

	if org, ok := o.Filter[store.KeyOrganizationID]; ok {
		filter := make(store.Filter, len(o.Filter))
		for k, v := range o.Filter {
			if k != store.KeyOrganizationID {
				filter[k] = v
			}
		}
		o.Filter = filter
		s, err := filterOrganization(org)
		if err != nil {
			return o, err
		}
		if o.OrganizationID == "" {
			o.OrganizationID = s
		}
	}
	return o, nil
}

func filterOrganization(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(v), nil
	default:
		return "", kberrors.New(kberrors.ErrCodeInvalidQuery,
			fmt.Sprintf("filter %s must be a string, got %T", store.KeyOrganizationID, v), nil).
			WithSuggestion("pass the organization id as a string")
	}
}
