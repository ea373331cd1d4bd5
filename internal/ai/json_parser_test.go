package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classification struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func TestParse_DirectJSON(t *testing.T) {
	result := Parse[classification](`{"status": "FirmDrafted", "confidence": 0.92, "reason": "drafted on firm letterhead"}`, "test")

	require.True(t, result.Success)
	assert.Equal(t, "FirmDrafted", result.Data.Status)
	assert.Equal(t, 0.92, result.Data.Confidence)
}

func TestParse_CodeFencedJSON(t *testing.T) {
	text := "```json\n{\"status\": \"CourtDoc\", \"confidence\": 0.85, \"reason\": \"bears a case caption\"}\n```"

	result := Parse[classification](text, "test")

	require.True(t, result.Success)
	assert.Equal(t, "CourtDoc", result.Data.Status)
	assert.Equal(t, 0.85, result.Data.Confidence)
}

func TestParse_FenceWithoutLanguageTag(t *testing.T) {
	text := "```\n{\"status\": \"Irrelevant\", \"confidence\": 1.0, \"reason\": \"email signature\"}\n```"

	result := Parse[classification](text, "test")

	require.True(t, result.Success)
	assert.Equal(t, "Irrelevant", result.Data.Status)
}

func TestParse_JSONSurroundedByProse(t *testing.T) {
	text := `Here is my classification of the document:

{"status": "ThirdParty", "confidence": 0.7, "reason": "signed by opposing counsel"}

Let me know if you need anything else.`

	result := Parse[classification](text, "test")

	require.True(t, result.Success)
	assert.Equal(t, "ThirdParty", result.Data.Status)
}

func TestParse_TrailingComma(t *testing.T) {
	result := Parse[classification](`{"status": "Uncertain", "confidence": 0.3, "reason": "fragment",}`, "test")

	require.True(t, result.Success)
	assert.Equal(t, "Uncertain", result.Data.Status)
}

func TestParse_UnquotedKeys(t *testing.T) {
	result := Parse[classification](`{status: "FirmDrafted", confidence: 0.8, reason: "internal memo"}`, "test")

	require.True(t, result.Success)
	assert.Equal(t, "FirmDrafted", result.Data.Status)
}

func TestParse_EmptyInput(t *testing.T) {
	result := Parse[classification]("   ", "test")

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "empty input")
}

func TestParse_NoJSON(t *testing.T) {
	result := Parse[classification]("I cannot classify this document.", "triage")

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "triage")
	assert.Equal(t, "I cannot classify this document.", result.OriginalText)
}

func TestParse_OversizedInput(t *testing.T) {
	huge := strings.Repeat("x", maxParseInput+1)

	result := Parse[classification](huge, "test")

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "size limit")
}

func TestParse_ArrayPayload(t *testing.T) {
	text := "The labels are:\n[\"lease\", \"draft\", \"commercial\"]"

	result := Parse[[]string](text, "test")

	require.True(t, result.Success)
	assert.Equal(t, []string{"lease", "draft", "commercial"}, result.Data)
}

func TestRemoveCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no fences", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"single backticks", "`{\"a\": 1}`", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, removeCodeFences(tt.input))
		})
	}
}

func TestCleanupJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trailing comma in object", `{"a": 1,}`, `{"a": 1}`},
		{"trailing comma in array", `[1, 2,]`, `[1, 2]`},
		{"unquoted key", `{a: 1}`, `{"a": 1}`},
		{"line comment", "{\"a\": 1} // done", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanupJSON(tt.input))
		})
	}
}
