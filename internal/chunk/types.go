package chunk

import (
	"fmt"
	"unicode/utf8"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Chunk size defaults, measured in characters (runes).
const (
	DefaultMaxSize = 512
	DefaultOverlap = 50
)

// Metadata keys set by the chunker.
const (
	MetaChunkIndex   = "chunkIndex"
	MetaCharCount    = "charCount"
	MetaHeaderPath   = "headerPath"
	MetaSectionTitle = "sectionTitle"
	MetaHeaderLevel  = "headerLevel"
	MetaFrontmatter  = "frontmatter"
)

// ContentType is the declared format of a document body.
type ContentType string

const (
	ContentTypePlain    ContentType = "plain"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeHTML     ContentType = "html"
	ContentTypeJSON     ContentType = "json"
)

// Valid reports whether t is a known content type. Empty means plain.
func (t ContentType) Valid() bool {
	switch t {
	case "", ContentTypePlain, ContentTypeMarkdown, ContentTypeHTML, ContentTypeJSON:
		return true
	}
	return false
}

// Strategy selects how text is split.
type Strategy string

const (
	StrategyRecursive Strategy = "recursive"
	StrategyCharacter Strategy = "character"
	StrategySentence  Strategy = "sentence"
	StrategyMarkdown  Strategy = "markdown"
)

// Chunk is a retrievable unit of text.
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// Index returns the chunk's position in its document, or -1 if unset.
func (c Chunk) Index() int {
	if v, ok := c.Metadata[MetaChunkIndex].(int); ok {
		return v
	}
	return -1
}

// Options controls splitting.
type Options struct {
	Strategy Strategy `yaml:"strategy" json:"strategy,omitempty"`
	MaxSize  int      `yaml:"max_size" json:"maxSize,omitempty"`
	Overlap  int      `yaml:"overlap" json:"overlap,omitempty"`
}

// DefaultOptions returns recursive splitting at 512/50.
func DefaultOptions() Options {
	return Options{Strategy: StrategyRecursive, MaxSize: DefaultMaxSize, Overlap: DefaultOverlap}
}

// withDefaults fills zero fields. A zero Overlap is kept as-is only when
// MaxSize was also given explicitly.
func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyRecursive
	}
	if o.MaxSize == 0 {
		o.MaxSize = DefaultMaxSize
		if o.Overlap == 0 {
			o.Overlap = DefaultOverlap
		}
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	switch o.Strategy {
	case StrategyRecursive, StrategyCharacter, StrategySentence, StrategyMarkdown:
	default:
		return kberrors.ValidationError(fmt.Sprintf("unknown chunking strategy %q", o.Strategy), nil).
			WithDetail("strategy", string(o.Strategy))
	}
	if o.MaxSize <= 0 {
		return kberrors.ValidationError(fmt.Sprintf("chunk max size must be positive, got %d", o.MaxSize), nil)
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxSize {
		return kberrors.ValidationError(
			fmt.Sprintf("chunk overlap %d must be in [0, %d)", o.Overlap, o.MaxSize), nil).
			WithSuggestion("lower chunking.overlap below chunking.max_size")
	}
	return nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
