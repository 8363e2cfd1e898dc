package extraction

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

const dateLayout = "2006-01-02"

// Layouts tried in order before falling back to cast.ToTimeE.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	dateLayout,
	"02.01.2006 15:04",
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
}

var booleans = map[string]bool{
	"true": true, "false": false,
	"1": true, "0": false,
	"yes": true, "no": false,
	"да": true, "нет": false,
}

// CastValue converts a raw extracted value to the declared parameter type.
// It reports false when the value is empty or cannot be converted.
func CastValue(typ model.ParamType, v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	switch typ {
	case model.ParamNumber:
		return castNumber(v)
	case model.ParamBoolean:
		return castBoolean(v)
	case model.ParamDate:
		return castDate(v)
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, false
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			return nil, false
		}
		return s, true
	}
}

func castNumber(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case bool:
		return nil, false
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.' {
				return r
			}
			return -1
		}, n)
		if cleaned == "" {
			return nil, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	default:
		f, err := cast.ToFloat64E(n)
		if err != nil {
			return nil, false
		}
		return f, true
	}
}

func castBoolean(v interface{}) (interface{}, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		if b == 1 || b == 0 {
			return b == 1, true
		}
		return nil, false
	case int:
		if b == 1 || b == 0 {
			return b == 1, true
		}
		return nil, false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, false
	}
	out, ok := booleans[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return nil, false
	}
	return out, true
}

func castDate(v interface{}) (interface{}, bool) {
	var t time.Time
	switch d := v.(type) {
	case time.Time:
		t = d
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return nil, false
		}
		parsed, ok := parseDate(s)
		if !ok {
			return nil, false
		}
		t = parsed
	default:
		return nil, false
	}
	return formatDate(t), true
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	t, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// formatDate keeps only the date unless the value carries a time of day.
func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}
