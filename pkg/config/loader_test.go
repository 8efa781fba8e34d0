package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o600))
	return dir
}

func TestInitialize_Defaults(t *testing.T) {
	// Empty dir: no loom.yaml, pure defaults.
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.Equal(t, "loom.db", cfg.Database.Path)
	assert.Equal(t, 8315, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Queue.WorkerCount)
	assert.Equal(t, 16384, cfg.Session.MaxTokens)
	assert.Equal(t, "anthropic", cfg.Session.DefaultProvider)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Contains(t, cfg.Providers, "anthropic")
	assert.Equal(t, "claude-sonnet-4-5", cfg.Providers["anthropic"].DefaultModel)
}

func TestInitialize_FileOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9000
database:
  backend: sqlite
  path: /tmp/custom.db
queue:
  worker_count: 2
session:
  max_tokens: 8192
logging:
  level: debug
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.Equal(t, 8192, cfg.Session.MaxTokens)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep defaults.
	assert.Equal(t, 5, cfg.Queue.MaxConcurrentExecutions)
	assert.Equal(t, 1*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestInitialize_ProviderMergeKeepsBuiltins(t *testing.T) {
	dir := writeConfig(t, `
providers:
  anthropic:
    default_model: claude-opus-4-1
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-1", cfg.Providers["anthropic"].DefaultModel)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Providers["anthropic"].APIKeyEnv)
	// Other builtin providers survive a partial providers block.
	assert.Contains(t, cfg.Providers, "ollama")
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("LOOM_TEST_DB_PATH", "/data/env.db")
	dir := writeConfig(t, `
database:
  path: "{{.LOOM_TEST_DB_PATH}}"
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", cfg.Database.Path)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "queue: [not: a: map")

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
database:
  backend: oracle
`)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestTemplatesConfig_CacheTTLDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TemplatesConfig{CacheTTL: "5m"}.CacheTTLDuration(time.Minute))
	assert.Equal(t, time.Minute, TemplatesConfig{}.CacheTTLDuration(time.Minute))
	assert.Equal(t, time.Minute, TemplatesConfig{CacheTTL: "bogus"}.CacheTTLDuration(time.Minute))
}

func TestProviderConfig_APIKey(t *testing.T) {
	t.Setenv("LOOM_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", ProviderConfig{APIKeyEnv: "LOOM_TEST_KEY"}.APIKey())
	assert.Equal(t, "", ProviderConfig{}.APIKey())
}
