package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerToolByName(t *testing.T, tools []ProviderTool, name string) ProviderTool {
	t.Helper()
	for _, pt := range tools {
		if pt.Name == name {
			return pt
		}
	}
	t.Fatalf("provider tool %s not found", name)
	return ProviderTool{}
}

func TestAnthropicTranslator_ToProviderTools(t *testing.T) {
	tr := NewAnthropicTranslator()
	tools := tr.ToProviderTools(Catalog())
	require.Len(t, tools, len(Catalog()))

	read := providerToolByName(t, tools, "Read")
	props, ok := read.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "file_path", "path should be renamed for the Anthropic dialect")
	assert.NotContains(t, props, "path")
	assert.Equal(t, []string{"file_path"}, read.InputSchema["required"])

	edit := providerToolByName(t, tools, "Edit")
	props, ok = edit.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "old_string")
	assert.Contains(t, props, "new_string")
	assert.Contains(t, props, "replace_all")
}

func TestAnthropicTranslator_DoesNotMutateCatalog(t *testing.T) {
	tr := NewAnthropicTranslator()
	tr.ToProviderTools(Catalog())

	def, ok := Lookup("file.read")
	require.True(t, ok)
	props := def.InputSchema["properties"].(map[string]any)
	assert.Contains(t, props, "path", "Canonical schema must keep canonical parameter names")
	assert.NotContains(t, props, "file_path")
}

func TestAnthropicTranslator_MapToolCall(t *testing.T) {
	tr := NewAnthropicTranslator()

	method, params, ok := tr.MapToolCall("Read", map[string]any{"file_path": "/src/main.go", "limit": 100})
	require.True(t, ok)
	assert.Equal(t, "file/read", method)
	assert.Equal(t, "/src/main.go", params["path"])
	assert.Equal(t, 100, params["limit"])
	assert.NotContains(t, params, "file_path")

	method, params, ok = tr.MapToolCall("Edit", map[string]any{
		"file_path":  "/src/main.go",
		"old_string": "foo",
		"new_string": "bar",
	})
	require.True(t, ok)
	assert.Equal(t, "file/edit", method)
	assert.Equal(t, "foo", params["oldText"])
	assert.Equal(t, "bar", params["newText"])
}

func TestAnthropicTranslator_UnknownTool(t *testing.T) {
	tr := NewAnthropicTranslator()

	_, _, ok := tr.MapToolCall("LaunchMissiles", map[string]any{})
	assert.False(t, ok)
	assert.False(t, tr.IsSupported("LaunchMissiles"))
	_, ok = tr.GetCanonicalName("LaunchMissiles")
	assert.False(t, ok)

	assert.True(t, tr.IsSupported("Bash"))
	canonical, ok := tr.GetCanonicalName("Bash")
	require.True(t, ok)
	assert.Equal(t, "terminal.execute", canonical)
}

func TestOpenAITranslator_MapToolCall(t *testing.T) {
	tr := NewOpenAITranslator()
	assert.Equal(t, DialectOpenAI, tr.ProviderName())

	method, params, ok := tr.MapToolCall("read_file", map[string]any{"file_path": "/a.txt"})
	require.True(t, ok)
	assert.Equal(t, "file/read", method)
	assert.Equal(t, "/a.txt", params["path"])

	method, params, ok = tr.MapToolCall("edit_file", map[string]any{
		"file_path": "/a.txt",
		"old_text":  "x",
		"new_text":  "y",
	})
	require.True(t, ok)
	assert.Equal(t, "file/edit", method)
	assert.Equal(t, "x", params["oldText"])
	assert.Equal(t, "y", params["newText"])
}

func TestGeminiTranslator_MapToolCall(t *testing.T) {
	tr := NewGeminiTranslator()
	assert.Equal(t, DialectGemini, tr.ProviderName())

	method, params, ok := tr.MapToolCall("readFile", map[string]any{"filePath": "/a.txt"})
	require.True(t, ok)
	assert.Equal(t, "file/read", method)
	assert.Equal(t, "/a.txt", params["path"])

	// Canonical camelCase parameters pass through unchanged.
	method, params, ok = tr.MapToolCall("editFile", map[string]any{
		"filePath": "/a.txt",
		"oldText":  "x",
		"newText":  "y",
	})
	require.True(t, ok)
	assert.Equal(t, "file/edit", method)
	assert.Equal(t, "x", params["oldText"])
}

func TestForProvider(t *testing.T) {
	assert.Equal(t, DialectAnthropic, ForProvider("claude").ProviderName())
	assert.Equal(t, DialectOpenAI, ForProvider("openai").ProviderName())
	assert.Equal(t, DialectOpenAI, ForProvider("ollama").ProviderName())
	assert.Equal(t, DialectGemini, ForProvider("gemini").ProviderName())
	assert.Equal(t, DialectAnthropic, ForProvider("mystery-llm").ProviderName(),
		"Unknown providers fall back to the Anthropic dialect")
}
