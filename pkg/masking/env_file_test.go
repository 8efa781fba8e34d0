package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvFileMasker_AppliesTo(t *testing.T) {
	m := &EnvFileMasker{}

	assert.True(t, m.AppliesTo("DATABASE_URL=postgres://u:p@localhost/db"))
	assert.True(t, m.AppliesTo("export API_TOKEN=abc123"))
	assert.False(t, m.AppliesTo("no assignments here"))
	assert.False(t, m.AppliesTo("lowercase=value"))
}

func TestEnvFileMasker_MasksSensitiveKeys(t *testing.T) {
	m := &EnvFileMasker{}

	input := "APP_NAME=loom\nAPI_TOKEN=secret-token-value\nDB_PASSWORD=hunter2\nPORT=8080\n"
	masked := m.Mask(input)

	assert.Contains(t, masked, "APP_NAME=loom", "Non-sensitive keys keep their values")
	assert.Contains(t, masked, "PORT=8080")
	assert.Contains(t, masked, "API_TOKEN="+MaskedEnvValue)
	assert.Contains(t, masked, "DB_PASSWORD="+MaskedEnvValue)
	assert.NotContains(t, masked, "secret-token-value")
	assert.NotContains(t, masked, "hunter2")
}

func TestEnvFileMasker_ExportPrefix(t *testing.T) {
	m := &EnvFileMasker{}

	masked := m.Mask("export AWS_SECRET_ACCESS_KEY=abcdef0123456789")

	assert.Equal(t, "export AWS_SECRET_ACCESS_KEY="+MaskedEnvValue, masked)
}

func TestEnvFileMasker_MixedContent(t *testing.T) {
	m := &EnvFileMasker{}

	input := "$ cat .env\nSTRIPE_KEY=sk_test_abc\ndone"
	masked := m.Mask(input)

	assert.Contains(t, masked, "STRIPE_KEY="+MaskedEnvValue)
	assert.Contains(t, masked, "$ cat .env")
	assert.Contains(t, masked, "done")
}
