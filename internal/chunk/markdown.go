package chunk

import (
	"regexp"
	"strings"
)

var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// section is the text under one header, header line included.
type section struct {
	level int
	title string
	path  string
	body  string
}

// splitMarkdown splits on headers and sub-splits sections larger than maxSize,
// tagging every chunk with the header hierarchy it sits under.
func splitMarkdown(text string, maxSize, overlap int) []Chunk {
	var chunks []Chunk

	if m := frontmatterPattern.FindString(text); m != "" {
		for _, part := range splitRecursive(strings.TrimSpace(m), maxSize, overlap) {
			chunks = append(chunks, Chunk{Text: part, Metadata: map[string]any{
				MetaFrontmatter:  true,
				MetaHeaderLevel:  0,
				MetaHeaderPath:   "",
				MetaSectionTitle: "",
			}})
		}
		text = text[len(m):]
	}

	for _, sec := range parseSections(text) {
		body := strings.TrimSpace(sec.body)
		if body == "" || (sec.level > 0 && !strings.Contains(body, "\n")) {
			// header with nothing under it
			continue
		}

		var parts []string
		if runeLen(body) <= maxSize {
			parts = []string{body}
		} else {
			parts = splitSection(body, maxSize, overlap)
		}
		for _, part := range parts {
			chunks = append(chunks, Chunk{Text: part, Metadata: map[string]any{
				MetaHeaderPath:   sec.path,
				MetaSectionTitle: sec.title,
				MetaHeaderLevel:  sec.level,
			}})
		}
	}
	return chunks
}

// parseSections walks lines, tracking the header stack. Lines inside fenced
// code blocks never start a section.
func parseSections(text string) []section {
	var (
		sections []section
		stack    [6]string
		current  = section{}
		body     strings.Builder
		inFence  bool
	)

	flush := func() {
		current.body = body.String()
		if strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1])
				title := strings.TrimSpace(m[2])
				stack[level-1] = title
				for i := level; i < len(stack); i++ {
					stack[i] = ""
				}
				var path []string
				for i := 0; i < level; i++ {
					if stack[i] != "" {
						path = append(path, stack[i])
					}
				}
				current = section{level: level, title: title, path: strings.Join(path, " > ")}
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// splitSection packs paragraphs into windows, keeping fenced code blocks
// whole where they fit. Oversized paragraphs fall through to recursive
// splitting.
func splitSection(body string, maxSize, overlap int) []string {
	var pieces []string
	for _, para := range mergeFences(strings.Split(body, "\n\n")) {
		if runeLen(para) <= maxSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitRecursive(para, maxSize, overlap)...)
	}
	return mergeSplits(pieces, "\n\n", maxSize, overlap)
}

// mergeFences rejoins paragraphs that a blank line inside a code fence split apart.
func mergeFences(paragraphs []string) []string {
	var (
		out   []string
		fence strings.Builder
		open  bool
	)
	for _, para := range paragraphs {
		if strings.TrimSpace(para) == "" && !open {
			continue
		}
		if open {
			fence.WriteString("\n\n")
			fence.WriteString(para)
			if strings.Count(para, "```")%2 == 1 {
				out = append(out, fence.String())
				fence.Reset()
				open = false
			}
			continue
		}
		if strings.Count(para, "```")%2 == 1 {
			open = true
			fence.WriteString(para)
			continue
		}
		out = append(out, para)
	}
	if open {
		out = append(out, fence.String())
	}
	return out
}
