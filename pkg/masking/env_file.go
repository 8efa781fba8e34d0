package masking

import (
	"regexp"
	"strings"
)

// MaskedEnvValue is the replacement string for masked dotenv values.
const MaskedEnvValue = "[MASKED_ENV_VALUE]"

// envAssignPattern matches KEY=value lines as emitted by `cat .env`,
// `printenv`, or docker-compose config dumps.
var envAssignPattern = regexp.MustCompile(`(?m)^(\s*(?:export\s+)?[A-Z][A-Z0-9_]*)=(.+)$`)

// sensitiveEnvKey marks the variable names whose values get masked.
var sensitiveEnvKey = regexp.MustCompile(`(?i)(KEY|TOKEN|SECRET|PASSWORD|PASSWD|CREDENTIAL|AUTH|DSN|PRIVATE)`)

// EnvFileMasker masks values of sensitive-looking variables in dotenv-style
// output while leaving ordinary assignments (PATH, HOME, flags) untouched.
type EnvFileMasker struct{}

// Name returns the unique identifier for this masker.
func (m *EnvFileMasker) Name() string { return "env_file" }

// AppliesTo performs a lightweight check on whether this masker should process the data.
func (m *EnvFileMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "=") {
		return false
	}
	return envAssignPattern.MatchString(data)
}

// Mask replaces values of sensitive variables line by line. Lines that do
// not look like assignments pass through unchanged.
func (m *EnvFileMasker) Mask(data string) string {
	return envAssignPattern.ReplaceAllStringFunc(data, func(line string) string {
		eq := strings.Index(line, "=")
		if eq < 0 {
			return line
		}
		key := line[:eq]
		if !sensitiveEnvKey.MatchString(key) {
			return line
		}
		return key + "=" + MaskedEnvValue
	})
}
