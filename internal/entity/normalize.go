package entity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultCategory is assigned when a task arrives without one.
const DefaultCategory = "uncategorized"

var foldCaser = cases.Fold()

// NormalizeCategory canonicalizes a category label so equivalent
// spellings land in the same index partition: NFC normalization,
// Unicode case folding, trimmed whitespace. Empty input gets the
// default category.
func NormalizeCategory(category string) string {
	c := strings.TrimSpace(norm.NFC.String(category))
	if c == "" {
		return DefaultCategory
	}
	return foldCaser.String(c)
}
