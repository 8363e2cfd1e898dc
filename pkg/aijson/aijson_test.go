package aijson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]interface{}
	}{
		{
			name:     "plain object",
			input:    `{"order_id": "A-17", "qty": 2}`,
			expected: map[string]interface{}{"order_id": "A-17", "qty": float64(2)},
		},
		{
			name:     "fenced with language tag",
			input:    "Here you go:\n```json\n{\"name\": \"Ivan\"}\n```\nAnything else?",
			expected: map[string]interface{}{"name": "Ivan"},
		},
		{
			name:     "commentary around object",
			input:    `Sure! The extracted data is {"phone": "+7 999 000-00-00", "note": "call {after} 5"} hope that helps`,
			expected: map[string]interface{}{"phone": "+7 999 000-00-00", "note": "call {after} 5"},
		},
		{
			name:     "nulls are kept",
			input:    `{"order_id": null}`,
			expected: map[string]interface{}{"order_id": nil},
		},
		{
			name:     "missing closing brace",
			input:    `{"city": "Kazan"`,
			expected: map[string]interface{}{"city": "Kazan"},
		},
		{
			name:     "echoed placeholder before the object",
			input:    "Filling template {order_id} now: {\"order_id\": \"A-1\"}",
			expected: map[string]interface{}{"order_id": "A-1"},
		},
		{
			name:     "broken object before a valid one",
			input:    `draft {"order_id": A-1,} final {"order_id": "A-2"}`,
			expected: map[string]interface{}{"order_id": "A-2"},
		},
		{
			name:     "no json at all",
			input:    "I could not find anything.",
			expected: map[string]interface{}{},
		},
		{
			name:     "empty",
			input:    "",
			expected: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractObject(tt.input))
		})
	}
}

func TestParse_RepairsTrailingComma(t *testing.T) {
	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	err := Parse(`{"intent": "order_status", "confidence": 0.91,}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "order_status", out.Intent)
	assert.InDelta(t, 0.91, out.Confidence, 1e-9)
}

func TestFirstObject(t *testing.T) {
	obj, ok := firstObject(`x {"a": {"b": "}"}} y {"c": 1}`)
	assert.True(t, ok)
	assert.Equal(t, `{"a": {"b": "}"}}`, obj)

	_, ok = firstObject("nothing here")
	assert.False(t, ok)
}

func TestObjectAt(t *testing.T) {
	s := `{order_id} and {"a": "{"}`
	span, end := objectAt(s, 0)
	assert.Equal(t, "{order_id}", span)
	assert.Equal(t, len("{order_id}"), end)

	span, end = objectAt(s, 15)
	assert.Equal(t, `{"a": "{"}`, span)
	assert.Equal(t, len(s), end)

	span, end = objectAt(`{"open": 1`, 0)
	assert.Equal(t, `{"open": 1`, span)
	assert.Equal(t, len(`{"open": 1`), end)
}
