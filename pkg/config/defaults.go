package config

import "time"

// Default returns the built-in configuration. Initialize merges loom.yaml
// over this, so every field has a sane zero-config value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8315,
		},
		Database: DatabaseConfig{
			Backend:      "sqlite",
			Path:         "loom.db",
			SSLMode:      "prefer",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				APIKeyEnv:    "ANTHROPIC_API_KEY",
				DefaultModel: "claude-sonnet-4-5",
			},
			"openai": {
				APIKeyEnv:    "OPENAI_API_KEY",
				DefaultModel: "gpt-4o",
			},
			"gemini": {
				APIKeyEnv:    "GEMINI_API_KEY",
				DefaultModel: "gemini-2.0-flash",
			},
			"ollama": {
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3.1",
			},
		},
		Queue: QueueConfig{
			WorkerCount:             5,
			MaxConcurrentExecutions: 5,
			PollInterval:            1 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			ExecutionTimeout:        30 * time.Minute,
			GracefulShutdownTimeout: 30 * time.Minute,
			HeartbeatInterval:       30 * time.Second,
			OrphanDetectionInterval: 5 * time.Minute,
			OrphanThreshold:         5 * time.Minute,
		},
		Session: SessionConfig{
			MaxTokens:       16384,
			ContextWindow:   200000,
			DefaultProvider: "anthropic",
		},
		Permissions: PermissionsConfig{
			RequestTimeout: 5 * time.Minute,
			MaxPending:     100,
		},
		Slack: SlackConfig{
			TokenEnv:     "SLACK_BOT_TOKEN",
			DashboardURL: "http://localhost:5173",
		},
		Templates: TemplatesConfig{
			CacheTTL:       "5m",
			AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
			GitHubTokenEnv: "GITHUB_TOKEN",
		},
		Retention: RetentionConfig{
			ExecutionRetentionDays: 365,
			EventTTL:               1 * time.Hour,
			CleanupInterval:        12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
