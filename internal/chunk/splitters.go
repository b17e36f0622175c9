package chunk

import (
	"regexp"
	"strings"
)

// recursiveSeparators are tried in order, coarsest first.
var recursiveSeparators = []string{"\n\n", "\n", ". ", " "}

var sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)

// splitRecursive breaks text on the coarsest separator present and recurses
// into pieces that are still too large, falling back to fixed windows.
func splitRecursive(text string, maxSize, overlap int) []string {
	return recurse(text, recursiveSeparators, maxSize, overlap)
}

func recurse(text string, separators []string, maxSize, overlap int) []string {
	if runeLen(text) <= maxSize {
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, s := range separators {
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return characterWindows(text, maxSize, overlap)
	}

	// SplitAfter keeps each separator on its piece so merging with "" is lossless.
	var out, good []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) <= maxSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, mergeSplits(good, "", maxSize, overlap)...)
			good = nil
		}
		out = append(out, recurse(piece, rest, maxSize, overlap)...)
	}
	if len(good) > 0 {
		out = append(out, mergeSplits(good, "", maxSize, overlap)...)
	}
	return out
}

// characterWindows cuts text into fixed windows of maxSize runes, each
// starting maxSize-overlap runes after the previous one.
func characterWindows(text string, maxSize, overlap int) []string {
	runes := []rune(text)
	step := maxSize - overlap
	if step <= 0 {
		step = maxSize
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitSentences packs whole sentences into windows. Sentences longer than
// maxSize are cut into fixed windows.
func splitSentences(text string, maxSize, overlap int) []string {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if runeLen(s) > maxSize {
			sentences = append(sentences, characterWindows(s, maxSize, overlap)...)
			continue
		}
		sentences = append(sentences, s)
	}
	return mergeSplits(sentences, " ", maxSize, overlap)
}
