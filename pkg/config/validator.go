package config

import "fmt"

// Validate checks the merged configuration for values that would break
// startup or silently misbehave at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateDatabase(&cfg.Database); err != nil {
		return err
	}
	if err := validateQueue(&cfg.Queue); err != nil {
		return err
	}
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}
	if cfg.Slack.Enabled && cfg.Slack.Channel == "" {
		return NewValidationError("slack", "channel", fmt.Errorf("%w: required when slack is enabled", ErrInvalidValue))
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidValue, s.Port))
	}
	return nil
}

func validateDatabase(d *DatabaseConfig) error {
	switch d.Backend {
	case "sqlite":
		if d.Path == "" {
			return NewValidationError("database", "path", fmt.Errorf("%w: required for sqlite backend", ErrInvalidValue))
		}
	case "postgres":
		if d.Host == "" {
			return NewValidationError("database", "host", fmt.Errorf("%w: required for postgres backend", ErrInvalidValue))
		}
		if d.Database == "" {
			return NewValidationError("database", "database", fmt.Errorf("%w: required for postgres backend", ErrInvalidValue))
		}
	default:
		return NewValidationError("database", "backend", fmt.Errorf("%w: must be sqlite or postgres, got %q", ErrInvalidValue, d.Backend))
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidValue, q.WorkerCount))
	}
	if q.MaxConcurrentExecutions < 1 {
		return NewValidationError("queue", "max_concurrent_executions", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, q.MaxConcurrentExecutions))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.ExecutionTimeout <= 0 {
		return NewValidationError("queue", "execution_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.HeartbeatInterval <= 0 {
		return NewValidationError("queue", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return NewValidationError("queue", "orphan_threshold", fmt.Errorf("%w: must exceed heartbeat_interval", ErrInvalidValue))
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	if s.MaxTokens < 1 {
		return NewValidationError("session", "max_tokens", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, s.MaxTokens))
	}
	if s.ContextWindow < s.MaxTokens {
		return NewValidationError("session", "context_window", fmt.Errorf("%w: must be at least max_tokens", ErrInvalidValue))
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging", "level", fmt.Errorf("%w: must be debug, info, warn, or error, got %q", ErrInvalidValue, l.Level))
	}
	switch l.Format {
	case "text", "json":
	default:
		return NewValidationError("logging", "format", fmt.Errorf("%w: must be text or json, got %q", ErrInvalidValue, l.Format))
	}
	return nil
}
