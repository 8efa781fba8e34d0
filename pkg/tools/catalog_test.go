package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Integrity(t *testing.T) {
	defs := Catalog()
	require.NotEmpty(t, defs)

	validCategories := map[Category]bool{
		CategoryFile: true, CategoryTerminal: true, CategoryGit: true,
		CategoryLSP: true, CategoryAI: true, CategoryDocument: true,
	}

	seenNames := make(map[string]bool)
	seenMethods := make(map[string]bool)
	for _, def := range defs {
		assert.False(t, seenNames[def.CanonicalName], "Duplicate canonical name %s", def.CanonicalName)
		seenNames[def.CanonicalName] = true

		assert.False(t, seenMethods[def.ECPMethod], "Duplicate ECP method %s", def.ECPMethod)
		seenMethods[def.ECPMethod] = true

		assert.Equal(t, strings.ReplaceAll(def.CanonicalName, ".", "/"), def.ECPMethod,
			"ECP method should mirror the dotted name for %s", def.CanonicalName)
		assert.True(t, validCategories[def.Category], "Unknown category %q on %s", def.Category, def.CanonicalName)
		assert.NotEmpty(t, def.Description, "Missing description on %s", def.CanonicalName)
		assert.Equal(t, "object", def.InputSchema["type"], "Schema of %s should be an object", def.CanonicalName)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	def, ok := Lookup("file.read")
	require.True(t, ok)
	assert.Equal(t, "file/read", def.ECPMethod)
	assert.Equal(t, CategoryFile, def.Category)

	_, ok = Lookup("file.compress")
	assert.False(t, ok)
}

func TestCatalog_ByCategory(t *testing.T) {
	terminal := ByCategory(CategoryTerminal)
	require.Len(t, terminal, 2)
	assert.Equal(t, "terminal.execute", terminal[0].CanonicalName)
	assert.Equal(t, "terminal.spawn", terminal[1].CanonicalName)
}

func TestCatalog_DialectTablesCoverEveryTool(t *testing.T) {
	tables := map[string]map[string]string{
		"anthropic": anthropicNames,
		"openai":    openaiNames,
		"gemini":    geminiNames,
	}

	for dialectName, names := range tables {
		providerSeen := make(map[string]bool)
		for _, def := range Catalog() {
			providerName, ok := names[def.CanonicalName]
			assert.True(t, ok, "%s dialect is missing %s", dialectName, def.CanonicalName)
			assert.False(t, providerSeen[providerName],
				"%s dialect maps two tools to %s", dialectName, providerName)
			providerSeen[providerName] = true
		}
		for canonical := range names {
			_, ok := Lookup(canonical)
			assert.True(t, ok, "%s dialect names unknown tool %s", dialectName, canonical)
		}
	}
}

func TestCompileSchemas(t *testing.T) {
	schemas, err := compileSchemas()
	require.NoError(t, err)
	assert.Len(t, schemas, len(Catalog()))
}
