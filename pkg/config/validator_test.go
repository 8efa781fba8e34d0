package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "unknown database backend",
			mutate:  func(cfg *Config) { cfg.Database.Backend = "oracle" },
			wantErr: "must be sqlite or postgres",
		},
		{
			name:    "sqlite without path",
			mutate:  func(cfg *Config) { cfg.Database.Path = "" },
			wantErr: "required for sqlite backend",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Backend = "postgres"
				cfg.Database.Database = "loom"
			},
			wantErr: "required for postgres backend",
		},
		{
			name: "postgres complete",
			mutate: func(cfg *Config) {
				cfg.Database.Backend = "postgres"
				cfg.Database.Host = "localhost"
				cfg.Database.Database = "loom"
			},
		},
		{
			name:    "worker count too low",
			mutate:  func(cfg *Config) { cfg.Queue.WorkerCount = 0 },
			wantErr: "worker_count must be between 1 and 50",
		},
		{
			name:    "worker count too high",
			mutate:  func(cfg *Config) { cfg.Queue.WorkerCount = 51 },
			wantErr: "worker_count must be between 1 and 50",
		},
		{
			name:    "max concurrent executions zero",
			mutate:  func(cfg *Config) { cfg.Queue.MaxConcurrentExecutions = 0 },
			wantErr: "max_concurrent_executions",
		},
		{
			name:    "poll interval zero",
			mutate:  func(cfg *Config) { cfg.Queue.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name: "orphan threshold not above heartbeat",
			mutate: func(cfg *Config) {
				cfg.Queue.HeartbeatInterval = time.Minute
				cfg.Queue.OrphanThreshold = time.Minute
			},
			wantErr: "orphan_threshold",
		},
		{
			name:    "max tokens zero",
			mutate:  func(cfg *Config) { cfg.Session.MaxTokens = 0 },
			wantErr: "max_tokens",
		},
		{
			name: "context window below max tokens",
			mutate: func(cfg *Config) {
				cfg.Session.ContextWindow = cfg.Session.MaxTokens - 1
			},
			wantErr: "context_window",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: "logging",
		},
		{
			name:    "bad log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "format",
		},
		{
			name: "slack enabled without channel",
			mutate: func(cfg *Config) {
				cfg.Slack.Enabled = true
				cfg.Slack.Channel = ""
			},
			wantErr: "slack",
		},
		{
			name: "slack enabled with channel",
			mutate: func(cfg *Config) {
				cfg.Slack.Enabled = true
				cfg.Slack.Channel = "#loom"
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	require.Error(t, Validate(nil))
}
