package utils

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// ReplacePlaceholders substitutes every {key} in s for which lookup reports a
// value. Unknown placeholders are left untouched.
func ReplacePlaceholders(s string, lookup func(key string) (string, bool)) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := lookup(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})
}
