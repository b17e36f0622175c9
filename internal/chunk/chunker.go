// Package chunk splits document text into overlapping, size-bounded chunks.
package chunk

import (
	"bytes"
	"encoding/json"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Split normalizes content for its type and divides it according to opts.
// Every returned chunk carries chunkIndex and charCount metadata. Content that
// yields no chunks fails with an empty-document validation error.
func Split(content string, contentType ContentType, opts Options) ([]Chunk, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	text, err := Normalize(content, contentType)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	switch opts.Strategy {
	case StrategyCharacter:
		chunks = textChunks(characterWindows(text, opts.MaxSize, opts.Overlap))
	case StrategySentence:
		chunks = textChunks(splitSentences(text, opts.MaxSize, opts.Overlap))
	case StrategyMarkdown:
		chunks = splitMarkdown(text, opts.MaxSize, opts.Overlap)
	default:
		chunks = textChunks(splitRecursive(text, opts.MaxSize, opts.Overlap))
	}

	out := chunks[:0]
	for _, c := range chunks {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 2)
		}
		c.Metadata[MetaChunkIndex] = len(out)
		c.Metadata[MetaCharCount] = runeLen(c.Text)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, kberrors.EmptyDocumentError(string(contentType))
	}
	return out, nil
}

// Normalize converts content to the text form the splitters operate on.
// HTML becomes Markdown and JSON is re-indented so structural newlines
// exist. Plain and Markdown content pass through.
func Normalize(content string, contentType ContentType) (string, error) {
	switch contentType {
	case ContentTypeHTML:
		converter := md.NewConverter("", true, nil)
		out, err := converter.ConvertString(content)
		if err != nil {
			return "", kberrors.ValidationError("failed to convert HTML content", err)
		}
		return out, nil
	case ContentTypeJSON:
		if strings.TrimSpace(content) == "" {
			return "", nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(content), "", "  "); err != nil {
			return "", kberrors.ValidationError("content is not valid JSON", err).
				WithSuggestion("use contentType plain for non-JSON text")
		}
		return buf.String(), nil
	case "", ContentTypePlain, ContentTypeMarkdown:
		return content, nil
	default:
		return "", kberrors.ValidationError("unknown content type "+string(contentType), nil)
	}
}

func textChunks(parts []string) []Chunk {
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, Chunk{Text: p})
	}
	return chunks
}

// mergeSplits joins adjacent pieces with sep into windows no longer than
// maxSize. Each new window starts with the trailing pieces of the previous
// one, up to overlap characters.
func mergeSplits(splits []string, sep string, maxSize, overlap int) []string {
	sepLen := runeLen(sep)
	var (
		docs   []string
		window []string
		total  int
	)

	joinedLen := func(next int) int {
		if len(window) == 0 {
			return next
		}
		return total + sepLen + next
	}

	for _, s := range splits {
		l := runeLen(s)
		if len(window) > 0 && joinedLen(l) > maxSize {
			if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for len(window) > 0 && (total > overlap || joinedLen(l) > maxSize) {
				total -= runeLen(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		total = joinedLen(l)
		window = append(window, s)
	}
	if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
