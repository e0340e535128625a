package spam

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeContent trims, lower-cases, and collapses whitespace runs to a
// single space (spec.md §3 normalization rules).
func normalizeContent(content string) string {
	lowered := strings.ToLower(strings.TrimSpace(content))
	return whitespaceRun.ReplaceAllString(lowered, " ")
}
