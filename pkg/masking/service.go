package masking

import (
	"log/slog"
)

// Service applies data masking to terminal output before it is persisted or
// pushed to clients. Created once at application startup (singleton).
// Thread-safe and stateless aside from compiled patterns.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
	maskers  []Masker
}

// NewService creates a masking service with compiled built-in patterns and
// registered code-based maskers. All patterns are compiled eagerly at
// creation time. Invalid patterns are logged and skipped.
func NewService(enabled bool) *Service {
	s := &Service{
		enabled:  enabled,
		patterns: compilePatterns(builtinPatterns()),
		maskers:  []Masker{&EnvFileMasker{}},
	}

	slog.Info("Masking service initialized",
		"enabled", enabled,
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.maskers))

	return s
}

// Enabled reports whether masking is active.
func (s *Service) Enabled() bool { return s.enabled }

// Mask applies code-based maskers then regex patterns to content.
// Returns content unchanged when the service is disabled.
func (s *Service) Mask(content string) string {
	if !s.enabled || content == "" {
		return content
	}

	masked := content

	// Phase 1: code-based maskers (structural awareness)
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}

	// Phase 2: regex patterns (general sweep)
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}

	return masked
}

// MaskResult masks the textual output fields of a tool result in place and
// returns it. Only stdout, stderr and output are swept; structured fields
// keep their raw values.
func (s *Service) MaskResult(result map[string]any) map[string]any {
	if !s.enabled || result == nil {
		return result
	}
	for _, field := range []string{"stdout", "stderr", "output"} {
		if v, ok := result[field].(string); ok && v != "" {
			result[field] = s.Mask(v)
		}
	}
	return result
}
