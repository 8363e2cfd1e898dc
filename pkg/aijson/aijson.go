// Package aijson turns free-form model output into JSON values.
//
// Model responses routinely wrap JSON in markdown fences, prepend commentary or
// emit slightly broken syntax. Everything here is best effort and never panics.
package aijson

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExtractObject returns the first JSON object found in text, or an empty map.
func ExtractObject(text string) map[string]interface{} {
	out := map[string]interface{}{}
	if err := Parse(text, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// Parse decodes the first well-formed JSON object in text into v. Spans that
// do not decode, such as an echoed "{order_id}" placeholder, are skipped. When
// no span decodes, the first one is repaired instead.
func Parse(text string, v interface{}) error {
	stripped := stripFences(text)
	candidate := stripped
	if obj, ok := firstObject(stripped); ok {
		candidate = obj
	}

	for rest := stripped; ; {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			break
		}
		span, end := objectAt(rest, start)
		if json.Valid([]byte(span)) && json.UnmarshalFromString(span, v) == nil {
			return nil
		}
		rest = rest[end:]
	}

	err := json.UnmarshalFromString(candidate, v)
	if err == nil {
		return nil
	}
	originalErr := err

	// Truncated responses usually only miss the closing brace
	if err := json.UnmarshalFromString(candidate+"}", v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return originalErr
	}
	if err := json.UnmarshalFromString(repaired, v); err == nil {
		return nil
	}
	return originalErr
}

// stripFences removes ```json ... ``` wrappers if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// drop the language tag line
		if tag := strings.TrimSpace(rest[:nl]); !strings.ContainsAny(tag, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstObject returns the first balanced {...} span. An unterminated object is
// returned as-is from its opening brace so that repair can close it.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	span, _ := objectAt(s, start)
	return span, true
}

// objectAt returns the balanced span opening at s[start] and the offset just
// past it. Braces inside strings do not count.
func objectAt(s string, start int) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1
			}
		}
	}
	return s[start:], len(s)
}
