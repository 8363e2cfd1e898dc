package trigger

import (
	"regexp"
	"strings"
	"sync"
)

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

// regexCache compiles each pattern once. Invalid patterns are cached too.
type regexCache struct {
	entries sync.Map // pattern -> regexEntry
}

func newRegexCache() *regexCache {
	return &regexCache{}
}

// get compiles pattern case-insensitively unless it already sets its own flags.
func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.entries.Load(pattern); ok {
		e := v.(regexEntry)
		return e.re, e.err
	}

	expr := pattern
	if !strings.HasPrefix(expr, "(?") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	c.entries.Store(pattern, regexEntry{re: re, err: err})
	return re, err
}
