// Loom core server — runs the workflow engine, AI sessions, the execution
// queue, and the HTTP/WebSocket API the IDE shell talks to.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/forge-ide/loom/pkg/api"
	"github.com/forge-ide/loom/pkg/cleanup"
	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/ecp"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/masking"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/queue"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/slack"
	"github.com/forge-ide/loom/pkg/templates"
	"github.com/forge-ide/loom/pkg/tools"
	"github.com/forge-ide/loom/pkg/version"
	"github.com/forge-ide/loom/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// setupLogging replaces the default slog handler per the configured level
// and format.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildRegistry registers every enabled provider that has what it needs
// to run (an API key, except for Ollama which is keyless).
func buildRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(cfg.Session.DefaultProvider)
	maxTokens := cfg.Session.MaxTokens

	for name, pc := range cfg.Providers {
		if !pc.IsEnabled() {
			continue
		}
		switch name {
		case "anthropic":
			if pc.APIKey() == "" {
				slog.Info("Provider has no API key, skipping", "provider", name, "env", pc.APIKeyEnv)
				continue
			}
			registry.Register(providers.NewAnthropic(providers.AnthropicConfig{
				APIKey:       pc.APIKey(),
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				MaxTokens:    maxTokens,
			}))
		case "openai":
			if pc.APIKey() == "" {
				slog.Info("Provider has no API key, skipping", "provider", name, "env", pc.APIKeyEnv)
				continue
			}
			registry.Register(providers.NewOpenAI(providers.OpenAIConfig{
				APIKey:       pc.APIKey(),
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				MaxTokens:    maxTokens,
			}))
		case "gemini", "google":
			if pc.APIKey() == "" {
				slog.Info("Provider has no API key, skipping", "provider", name, "env", pc.APIKeyEnv)
				continue
			}
			registry.Register(providers.NewGemini(providers.GeminiConfig{
				APIKey:       pc.APIKey(),
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				MaxTokens:    maxTokens,
			}))
		case "ollama":
			registry.Register(providers.NewOllama(providers.OllamaConfig{
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				MaxTokens:    maxTokens,
			}))
		default:
			slog.Warn("Unknown provider in configuration, skipping", "provider", name)
		}
	}
	return registry
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("LOOM_CONFIG_DIR", "."),
		"Path to configuration directory")
	ecpURL := flag.String("ecp-url",
		getEnv("LOOM_ECP_URL", ""),
		"WebSocket URL of the host editor's ECP endpoint (empty: editor tools fail soft)")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	slog.Info("Starting loom",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir)

	// 2. Open the database and run migrations
	dbClient, err := database.NewClient(ctx, database.Config{
		Backend:      database.Backend(cfg.Database.Backend),
		Path:         cfg.Database.Path,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password(),
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "backend", dbClient.Backend())

	// 3. Event infrastructure: in-process bus, persisting publisher, and
	// the WebSocket connection manager with DB-backed catch-up.
	bus := events.NewBus()
	defer bus.Close()
	publisher := events.NewPublisher(dbClient, bus)
	connManager := events.NewConnectionManager(events.NewCatchupAdapter(dbClient), 10*time.Second)
	bus.AttachSink(connManager.Broadcast)

	// 4. State services
	svc := workflow.Services{
		Executions:  services.NewExecutionService(dbClient, publisher),
		Nodes:       services.NewNodeExecutionService(dbClient, publisher),
		Messages:    services.NewMessageService(dbClient, publisher),
		Contexts:    services.NewContextService(dbClient),
		Checkpoints: services.NewCheckpointService(dbClient),
		Feedback:    services.NewFeedbackService(dbClient),
		Workflows:   services.NewWorkflowService(dbClient),
		Agents:      services.NewAgentService(dbClient),
		Personas:    services.NewPersonaService(dbClient),
		Panels:      services.NewPanelService(dbClient, publisher),
	}
	if err := svc.Agents.EnsureSystemAgents(ctx); err != nil {
		slog.Error("Failed to seed system agents", "error", err)
		os.Exit(1)
	}

	// 5. One-time startup orphan cleanup
	if err := queue.CleanupStartupOrphans(ctx, dbClient, svc.Executions); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal — the stale-heartbeat sweep covers the rest
	}

	// 6. AI providers
	registry := buildRegistry(cfg)
	if len(registry.IDs()) == 0 {
		slog.Warn("No AI providers configured; agent and chat operations will fail until one is")
	}

	// 7. Tool execution: optional ECP connection to the host editor, one
	// executor per provider dialect, shared call recorder and masker.
	var requester tools.Requester
	if *ecpURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ecpClient, err := ecp.Dial(dialCtx, *ecpURL, 0)
		cancel()
		if err != nil {
			slog.Warn("Editor not reachable; editor-backed tools will fail until restart",
				"url", *ecpURL, "error", err)
		} else {
			defer ecpClient.Close()
			requester = ecpClient
			slog.Info("Connected to editor", "url", *ecpURL)
		}
	}

	masker := masking.NewService(true)
	recorder := services.NewToolCallService(dbClient)
	executors := make(map[string]*tools.Executor, len(registry.IDs()))
	for _, id := range registry.IDs() {
		exec, err := tools.NewExecutor(requester, tools.ForProvider(id), recorder, masker)
		if err != nil {
			slog.Error("Failed to build tool executor", "provider", id, "error", err)
			os.Exit(1)
		}
		executors[id] = exec
	}

	// 8. Permission gate: load persisted grants, then the configured
	// auto-approve extras.
	perms := permissions.NewService(dbClient, publisher, permissions.Config{
		RequestTimeout: cfg.Permissions.RequestTimeout,
		MaxPending:     cfg.Permissions.MaxPending,
	})
	defer perms.Close()
	if err := perms.Hydrate(ctx); err != nil {
		slog.Error("Failed to hydrate permissions", "error", err)
		os.Exit(1)
	}
	for _, toolName := range cfg.Permissions.AutoApprove {
		if _, err := perms.AddGlobal(toolName); err != nil {
			slog.Warn("Refusing configured auto-approve", "tool", toolName, "error", err)
		}
	}

	// 9. Session manager and workflow executor
	sessions := session.NewManager(registry, executors, perms, svc.Agents, publisher, session.Config{
		DefaultProvider: cfg.Session.DefaultProvider,
		MaxTokens:       cfg.Session.MaxTokens,
	})
	sessions.SetPersonaResolver(svc.Personas)

	executor := workflow.NewExecutor(svc, sessions, publisher)
	executor.SetContextWindow(cfg.Session.ContextWindow)
	executor.SetTemplates(templates.NewService(templates.Config{
		CacheTTL:       cfg.Templates.CacheTTLDuration(5 * time.Minute),
		AllowedDomains: cfg.Templates.AllowedDomains,
		GitHubToken:    cfg.Templates.GitHubToken(),
	}))
	for _, exec := range executors {
		executor.RegisterHandoffTool(exec)
	}

	// 10. Optional Slack notifications
	var slackService *slack.Service
	if cfg.Slack.Enabled {
		slackService = slack.NewService(slack.ServiceConfig{
			Token:        cfg.Slack.Token(),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.Slack.DashboardURL,
		})
		if slackService == nil {
			slog.Warn("Slack enabled but token or channel missing; notifications disabled")
		}
	}

	// 11. Worker pool (before the HTTP server, so executions created via
	// the API are picked up immediately)
	workerPool := queue.NewWorkerPool(podID, dbClient, cfg.Queue, executor, svc.Executions, svc.Workflows, slackService)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 12. Retention
	retention := cleanup.NewService(cfg.Retention, dbClient)
	retention.Start(ctx)

	// 13. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, dbClient, svc, executor, sessions, perms, connManager, workerPool)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Loom started",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"providers", registry.IDs())

	// 14. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 15. Graceful shutdown: drain the worker pool within its budget,
	// then stop the ancillary services and the HTTP listener.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer shutdownCancel()

	poolDone := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(poolDone)
	}()

	select {
	case <-poolDone:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete executions will be orphan-recovered")
	}

	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
