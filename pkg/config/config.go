// Package config loads and validates loom configuration: a single
// loom.yaml merged over built-in defaults, with environment variables
// expanded via {{.VAR}} template syntax.
package config

import (
	"os"
	"time"
)

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application at startup.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Database    DatabaseConfig            `yaml:"database"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Queue       QueueConfig               `yaml:"queue"`
	Session     SessionConfig             `yaml:"session"`
	Permissions PermissionsConfig         `yaml:"permissions"`
	Slack       SlackConfig               `yaml:"slack"`
	Templates   TemplatesConfig           `yaml:"templates"`
	Retention   RetentionConfig           `yaml:"retention"`
	Logging     LoggingConfig             `yaml:"logging"`

	configDir string
}

// ConfigDir returns the directory loom.yaml was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedWSOrigins are additional WebSocket origin patterns beyond
	// the server's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	// APIKeyEnv names the environment variable holding a static API key.
	// When the variable is set, every /api/v1 request must carry it in
	// the X-API-Key header. Empty disables auth (local single-user use).
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the static API key from the environment.
func (s ServerConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	// Backend is "sqlite" (embedded default) or "postgres".
	Backend string `yaml:"backend"`

	// SQLite settings.
	Path string `yaml:"path"`

	// Postgres settings. The password comes from the environment, never
	// from the YAML file.
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// Password resolves the Postgres password from the configured env var.
func (d DatabaseConfig) Password() string {
	if d.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(d.PasswordEnv)
}

// ProviderConfig describes one AI provider. API keys come from the
// environment via APIKeyEnv, never from the YAML file.
type ProviderConfig struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
}

// APIKey resolves the provider API key from the configured env var.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// IsEnabled defaults to true when the flag is omitted.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// QueueConfig controls how executions are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentExecutions limits executions processed at once,
	// enforced by a database COUNT(*) check at claim time.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// PollInterval is the base interval for checking pending executions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ExecutionTimeout is the maximum wall time one execution may run.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active
	// executions during shutdown. Should match ExecutionTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker touches its claimed
	// execution to prove liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned
	// executions.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an execution can go without a
	// heartbeat before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// SessionConfig tunes AI sessions.
type SessionConfig struct {
	// MaxTokens per provider call.
	MaxTokens int `yaml:"max_tokens"`
	// ContextWindow is the assumed model context budget, in tokens.
	ContextWindow int `yaml:"context_window"`
	// DefaultProvider serves models whose prefix matches no provider.
	DefaultProvider string `yaml:"default_provider"`
}

// PermissionsConfig tunes the tool permission gate.
type PermissionsConfig struct {
	// AutoApprove lists extra canonical tool names approved at global
	// scope on top of the built-in read-only set.
	AutoApprove []string `yaml:"auto_approve"`
	// RequestTimeout bounds how long a pending human decision may hang.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxPending caps simultaneous unanswered permission requests.
	MaxPending int `yaml:"max_pending"`
}

// SlackConfig holds execution notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
	// DashboardURL is the base URL used in notification links.
	DashboardURL string `yaml:"dashboard_url"`
}

// Token resolves the Slack bot token from the configured env var.
func (s SlackConfig) Token() string {
	if s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}

// TemplatesConfig tunes remote prompt template fetching.
type TemplatesConfig struct {
	// CacheTTL is parsed with time.ParseDuration ("5m", "1h").
	CacheTTL       string   `yaml:"cache_ttl"`
	AllowedDomains []string `yaml:"allowed_domains"`
	GitHubTokenEnv string   `yaml:"github_token_env"`
}

// CacheTTLDuration parses CacheTTL, falling back to the given default.
func (t TemplatesConfig) CacheTTLDuration(fallback time.Duration) time.Duration {
	if t.CacheTTL == "" {
		return fallback
	}
	d, err := time.ParseDuration(t.CacheTTL)
	if err != nil {
		return fallback
	}
	return d
}

// GitHubToken resolves the GitHub token from the configured env var.
func (t TemplatesConfig) GitHubToken() string {
	if t.GitHubTokenEnv == "" {
		return ""
	}
	return os.Getenv(t.GitHubTokenEnv)
}

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// ExecutionRetentionDays is how many days to keep terminal
	// executions before deleting them (child rows cascade).
	ExecutionRetentionDays int `yaml:"execution_retention_days"`

	// EventTTL is the maximum age of orphaned event rows before
	// deletion. Per-execution cleanup handles the normal case; this is
	// a safety net.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig selects the slog handler setup.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}
