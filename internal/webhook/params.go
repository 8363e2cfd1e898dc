package webhook

import (
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// ExtractParams reads parameter values from a JSON body. With a mapping, each
// code is read from its dot path; otherwise each code is looked up at the top
// level under its snake, camel, Pascal and kebab spellings.
func ExtractParams(params []model.Parameter, mapping map[string]string, body []byte) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	if len(mapping) > 0 {
		for code, path := range mapping {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type != gjson.Null {
				out[code] = v.Value()
			}
		}
		return out
	}

	top := gjson.ParseBytes(body).Map()
	for _, p := range params {
		for _, k := range KeyVariants(p.Code) {
			if v, ok := top[k]; ok && v.Type != gjson.Null {
				out[p.Code] = v.Value()
				break
			}
		}
	}
	return out
}

// KeyVariants returns code followed by its other spellings, without duplicates.
func KeyVariants(code string) []string {
	words := splitWords(code)
	if len(words) == 0 {
		return []string{code}
	}
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}

	camel := lower[0]
	pascal := capitalize(lower[0])
	for _, w := range lower[1:] {
		camel += capitalize(w)
		pascal += capitalize(w)
	}
	candidates := []string{
		code,
		strings.Join(lower, "_"),
		camel,
		pascal,
		strings.Join(lower, "-"),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// splitWords splits on underscores, dashes, spaces and lower-to-upper case changes.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
