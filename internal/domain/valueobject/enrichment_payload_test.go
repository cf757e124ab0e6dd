package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnrichmentPayload_ValidVariants(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		attributes map[string]interface{}
	}{
		{
			name:       "text",
			kind:       "text",
			attributes: map[string]interface{}{"content": "hello world"},
		},
		{
			name:       "document",
			kind:       "document",
			attributes: map[string]interface{}{"url": "https://example.com/report.pdf"},
		},
		{
			name: "transcript",
			kind: "transcript",
			attributes: map[string]interface{}{
				"turns": []interface{}{map[string]interface{}{"speaker": "a", "text": "hi"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := NewEnrichmentPayload(tt.kind, tt.attributes)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, payload.Kind().String())
		})
	}
}

func TestNewEnrichmentPayload_SchemaViolations(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		attributes map[string]interface{}
	}{
		{"unknown kind", "spreadsheet", map[string]interface{}{"content": "x"}},
		{"text missing content", "text", map[string]interface{}{}},
		{"text blank content", "text", map[string]interface{}{"content": "   "}},
		{"text non-string content", "text", map[string]interface{}{"content": 42}},
		{"document missing url", "document", map[string]interface{}{}},
		{"document non-http url", "document", map[string]interface{}{"url": "ftp://example.com/f"}},
		{"transcript missing turns", "transcript", map[string]interface{}{}},
		{"transcript empty turns", "transcript", map[string]interface{}{"turns": []interface{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnrichmentPayload(tt.kind, tt.attributes)
			assert.Error(t, err)
		})
	}
}

func TestEnrichmentPayload_AttributesAreCopied(t *testing.T) {
	attributes := map[string]interface{}{"content": "hello"}
	payload, err := NewEnrichmentPayload("text", attributes)
	require.NoError(t, err)

	// Mutating either the input or a returned copy must not leak through.
	attributes["content"] = "mutated"
	assert.Equal(t, "hello", payload.Attributes()["content"])

	payload.Attributes()["content"] = "mutated again"
	assert.Equal(t, "hello", payload.Attributes()["content"])
}
