package documents

import (
	"regexp"
	"strings"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeSlug lowercases s, collapses every run of characters outside
// [a-z0-9] into one hyphen and trims hyphens from both ends.
func NormalizeSlug(s string) (string, error) {
	slug := slugSeparators.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", kberrors.InvalidSlugError(s)
	}
	return slug, nil
}
