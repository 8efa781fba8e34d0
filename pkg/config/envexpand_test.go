package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("LOOM_TEST_VAR", "value-1")
	t.Setenv("LOOM_TEST_HOST", "db.internal")
	t.Setenv("LOOM_TEST_PORT", "5432")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single variable",
			input:    "key: {{.LOOM_TEST_VAR}}",
			expected: "key: value-1",
		},
		{
			name:     "multiple variables on one line",
			input:    "dsn: {{.LOOM_TEST_HOST}}:{{.LOOM_TEST_PORT}}",
			expected: "dsn: db.internal:5432",
		},
		{
			name:     "missing variable expands to empty",
			input:    "key: '{{.LOOM_TEST_DEFINITELY_UNSET}}'",
			expected: "key: ''",
		},
		{
			name:     "dollar signs preserved",
			input:    `pattern: "^secret.*$ and $PATH and ${ARRAY[0]}"`,
			expected: `pattern: "^secret.*$ and $PATH and ${ARRAY[0]}"`,
		},
		{
			name:     "no template syntax passes through",
			input:    "plain: yaml\nnested:\n  key: value",
			expected: "plain: yaml\nnested:\n  key: value",
		},
		{
			name:     "malformed template returns original",
			input:    "key: {{.UNCLOSED",
			expected: "key: {{.UNCLOSED",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, string(ExpandEnv([]byte(tc.input))))
		})
	}
}
