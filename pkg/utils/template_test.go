package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplacePlaceholders(t *testing.T) {
	values := map[string]string{"name": "Ann", "order_id": "A-17", "lead.id": "42"}
	lookup := func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}

	tests := []struct {
		in   string
		want string
	}{
		{"Hello {name}", "Hello Ann"},
		{"{name}/{order_id}/{name}", "Ann/A-17/Ann"},
		{"lead {lead.id} for {unknown}", "lead 42 for {unknown}"},
		{"no placeholders", "no placeholders"},
		{"{ name } stays", "{ name } stays"},
		{"json {\"a\": 1}", "json {\"a\": 1}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplacePlaceholders(tt.in, lookup), tt.in)
	}
}
