package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON_BareObject(t *testing.T) {
	got, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	require.Equal(t, `{"a": 1}`, got)
}

func TestExtractJSON_MarkdownFence(t *testing.T) {
	got, err := ExtractJSON("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	require.Equal(t, `{"a": 1}`, got)
}

func TestExtractJSON_SurroundingProse(t *testing.T) {
	got, err := ExtractJSON("Sure, here is the result:\n{\"a\": 1}\nLet me know if you need more.")
	require.NoError(t, err)
	require.Equal(t, `{"a": 1}`, got)
}

func TestExtractJSON_NestedBraces(t *testing.T) {
	got, err := ExtractJSON(`{"a": {"b": 1}, "c": [1, 2]}`)
	require.NoError(t, err)
	require.Equal(t, `{"a": {"b": 1}, "c": [1, 2]}`, got)
}

func TestExtractJSON_BraceInsideString(t *testing.T) {
	got, err := ExtractJSON(`{"a": "looks like a { but isn't"}`)
	require.NoError(t, err)
	require.Equal(t, `{"a": "looks like a { but isn't"}`, got)
}

func TestExtractJSON_Idempotent(t *testing.T) {
	first, err := ExtractJSON("```json\n{\"a\": {\"b\": 1}}\n```")
	require.NoError(t, err)

	second, err := ExtractJSON(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, err := ExtractJSON("no json here")
	require.Error(t, err)
}

func TestExtractJSON_Unbalanced(t *testing.T) {
	_, err := ExtractJSON(`{"a": 1`)
	require.Error(t, err)
}
