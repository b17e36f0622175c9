package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// longMarkdown returns a document of roughly 3000 characters with ten sections.
func longMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Customer Guide\n\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "## Part %d\n\n", i)
		for j := 0; j < 5; j++ {
			fmt.Fprintf(&sb, "Clause %d.%d explains how refunds and returns are handled. ", i, j)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestSplit_EmptyContentFails(t *testing.T) {
	for _, content := range []string{"", "   \n\t\n  "} {
		_, err := Split(content, ContentTypePlain, Options{})
		require.Error(t, err)
		assert.True(t, kberrors.IsValidation(err))
		assert.Equal(t, kberrors.ErrCodeEmptyDocument, kberrors.GetCode(err))
	}
}

func TestSplit_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"overlap equals size", Options{MaxSize: 100, Overlap: 100}},
		{"overlap above size", Options{MaxSize: 100, Overlap: 150}},
		{"negative overlap", Options{MaxSize: 100, Overlap: -1}},
		{"unknown strategy", Options{Strategy: "token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", ContentTypePlain, tt.opts)
			require.Error(t, err)
			assert.True(t, kberrors.IsValidation(err))
		})
	}
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := Split("  Refunds are processed within 5 days.  ", ContentTypePlain, Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "Refunds are processed within 5 days.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index())
	assert.Equal(t, 36, chunks[0].Metadata[MetaCharCount])
}

func TestSplit_LongMarkdownAllStrategies(t *testing.T) {
	doc := longMarkdown()
	require.GreaterOrEqual(t, len(doc), 3000)

	for _, strategy := range []Strategy{StrategyRecursive, StrategyCharacter, StrategySentence, StrategyMarkdown} {
		t.Run(string(strategy), func(t *testing.T) {
			chunks, err := Split(doc, ContentTypeMarkdown, Options{Strategy: strategy, MaxSize: 512, Overlap: 50})
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(chunks), 5)

			for i, c := range chunks {
				assert.LessOrEqual(t, runeLen(c.Text), 512+50, "chunk %d too large", i)
				assert.Equal(t, i, c.Index())
				assert.Equal(t, runeLen(c.Text), c.Metadata[MetaCharCount])
				assert.NotEmpty(t, strings.TrimSpace(c.Text))
			}
		})
	}
}

func TestSplit_CharacterWindowsOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 100)

	chunks, err := Split(text, ContentTypePlain, Options{Strategy: StrategyCharacter, MaxSize: 512, Overlap: 50})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Len(t, chunks[0].Text, 512)
	assert.True(t, strings.HasPrefix(chunks[1].Text, chunks[0].Text[462:]))
}

func TestSplit_SizesCountRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 600)

	chunks, err := Split(text, ContentTypePlain, Options{Strategy: StrategyCharacter, MaxSize: 512, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 512, chunks[0].Metadata[MetaCharCount])
	assert.Equal(t, 88, chunks[1].Metadata[MetaCharCount])
}

func TestSplit_SentenceKeepsSentencesWhole(t *testing.T) {
	chunks, err := Split("One. Two! Three?", ContentTypePlain, Options{Strategy: StrategySentence, MaxSize: 10, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "One. Two!", chunks[0].Text)
	assert.Equal(t, "Three?", chunks[1].Text)
}

func TestSplit_RecursivePrefersParagraphs(t *testing.T) {
	chunks, err := Split("para one text.\n\npara two text.", ContentTypePlain, Options{MaxSize: 20, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "para one text.", chunks[0].Text)
	assert.Equal(t, "para two text.", chunks[1].Text)
}

func TestMergeSplits_CarriesOverlap(t *testing.T) {
	got := mergeSplits([]string{"aaaa", "bbbb", "cccc"}, " ", 9, 4)
	assert.Equal(t, []string{"aaaa bbbb", "bbbb cccc"}, got)
}

func TestNormalize_HTMLBecomesMarkdown(t *testing.T) {
	out, err := Normalize("<h1>Title</h1><p>Hello <strong>world</strong></p>", ContentTypeHTML)
	require.NoError(t, err)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "**world**")
	assert.NotContains(t, out, "<p>")
}

func TestNormalize_JSONIsIndented(t *testing.T) {
	out, err := Normalize(`{"a":1,"b":[1,2]}`, ContentTypeJSON)
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"a\": 1")

	_, err = Normalize(`{"a":`, ContentTypeJSON)
	require.Error(t, err)
	assert.True(t, kberrors.IsValidation(err))
}

func TestNormalize_PassThrough(t *testing.T) {
	for _, ct := range []ContentType{"", ContentTypePlain, ContentTypeMarkdown} {
		out, err := Normalize("# keep <b>as is</b>", ct)
		require.NoError(t, err)
		assert.Equal(t, "# keep <b>as is</b>", out)
	}

	_, err := Normalize("x", "pdf")
	assert.Error(t, err)
}
