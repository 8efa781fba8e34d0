package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/tools"
)

// AgentResolver supplies agent definitions. Implemented by
// services.AgentService.
type AgentResolver interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// PersonaResolver supplies persona fragments for agents that carry a
// PersonaID. Implemented by services.PersonaService.
type PersonaResolver interface {
	GetPersona(ctx context.Context, id string) (*models.Persona, error)
}

// Config tunes the session manager.
type Config struct {
	// DefaultProvider serves models whose prefix matches no known
	// provider.
	DefaultProvider string
	// MaxTokens per provider call.
	MaxTokens int
}

// Manager owns all live sessions, keyed (chatID, agentID). Sessions are
// process-local conversation state; only their side effects (messages,
// context items, tool calls) persist.
type Manager struct {
	registry    *providers.Registry
	executors   map[string]*tools.Executor
	permissions *permissions.Service
	agents      AgentResolver
	personas    PersonaResolver
	publisher   *events.Publisher
	cfg         Config
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // by session ID
	byKey    map[string]*Session // by chatID:agentID
}

// NewManager wires the session manager. executors maps provider id to the
// tool executor built for that provider's dialect; providers without an
// entry fall back to the anthropic-style executor. publisher may be nil
// in tests.
func NewManager(registry *providers.Registry, executors map[string]*tools.Executor, perms *permissions.Service, agents AgentResolver, publisher *events.Publisher, cfg Config) *Manager {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = providers.ProviderAnthropic
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16384
	}
	return &Manager{
		registry:    registry,
		executors:   executors,
		permissions: perms,
		agents:      agents,
		publisher:   publisher,
		cfg:         cfg,
		logger:      slog.With("component", "session"),
		sessions:    make(map[string]*Session),
		byKey:       make(map[string]*Session),
	}
}

// SetPersonaResolver installs the persona lookup. Optional; without it,
// agents run on their bare system prompt.
func (m *Manager) SetPersonaResolver(pr PersonaResolver) {
	m.personas = pr
}

func sessionKey(chatID, agentID string) string {
	return chatID + ":" + agentID
}

// GetOrCreate returns the session for (chatID, agentID), creating it on
// first use. cliSessionID may carry a provider-side session id so the
// provider resumes its own context across process restarts.
func (m *Manager) GetOrCreate(ctx context.Context, chatID, agentID, cliSessionID string) (*Session, error) {
	key := sessionKey(chatID, agentID)

	m.mu.RLock()
	if sess, ok := m.byKey[key]; ok {
		m.mu.RUnlock()
		return sess, nil
	}
	m.mu.RUnlock()

	agent, err := m.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}
	providerID := m.resolveProvider(agent)
	if _, err := m.registry.Get(providerID); err != nil {
		return nil, fmt.Errorf("agent %s needs provider %s: %w", agentID, providerID, err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.New().String(),
		ChatID:       chatID,
		AgentID:      agentID,
		ProviderID:   providerID,
		CLISessionID: cliSessionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		state:        StateIdle,
	}

	m.mu.Lock()
	if existing, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[sess.ID] = sess
	m.byKey[key] = sess
	m.mu.Unlock()

	m.publishSessionEvent(ctx, events.EventTypeSessionCreated, sess, "")
	m.logger.Info("Session created",
		"session_id", sess.ID, "chat_id", chatID, "agent_id", agentID, "provider", providerID)
	return sess, nil
}

// resolveProvider prefers the agent's explicit provider, then the model
// prefix, then the manager default.
func (m *Manager) resolveProvider(agent *models.Agent) string {
	if agent.Provider != "" {
		return agent.Provider
	}
	return providers.ResolveModel(agent.Model, m.cfg.DefaultProvider)
}

// Get returns a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return sess, nil
}

// GetByKey returns the session for (chatID, agentID) if one exists.
func (m *Manager) GetByKey(chatID, agentID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byKey[sessionKey(chatID, agentID)]
	return sess, ok
}

// List returns all live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a session. An in-flight loop is cancelled first.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	_ = m.CancelMessage(sessionID)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	delete(m.byKey, sessionKey(sess.ChatID, sess.AgentID))
	m.mu.Unlock()

	m.publishSessionEvent(ctx, events.EventTypeSessionDeleted, sess, "")
	return nil
}

// SetWorkingDir sets the directory injected into terminal tool calls and
// used for folder-scope permission checks.
func (m *Manager) SetWorkingDir(sessionID, dir string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.WorkingDir = dir
	sess.mu.Unlock()
	return nil
}

// SetCLISessionID stores a provider-side session id for resuming.
func (m *Manager) SetCLISessionID(sessionID, cliSessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.CLISessionID = cliSessionID
	sess.mu.Unlock()
	return nil
}

// SetWorkflowAgents installs the delegation roster for a session running
// inside a multi-agent workflow.
func (m *Manager) SetWorkflowAgents(sessionID string, agents []*models.Agent) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.workflowAgents = agents
	sess.mu.Unlock()
	return nil
}

// CancelMessage aborts the in-flight provider request and marks the loop
// cancelled. The loop repairs orphaned tool_use blocks on its way out and
// returns to idle, so a later SendMessage succeeds.
func (m *Manager) CancelMessage(sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	state := sess.state
	if state != StateIdle {
		sess.state = StateCancelled
	}
	providerID := sess.ProviderID
	sess.mu.Unlock()

	if state == StateIdle {
		// Nothing in flight; still repair in case a previous crash left
		// orphans behind.
		repairOrphans(sess)
		return nil
	}

	if provider, err := m.registry.Get(providerID); err == nil {
		provider.Cancel()
	}
	m.logger.Info("Message cancelled", "session_id", sessionID, "was_state", string(state))
	return nil
}

// executorFor picks the tool executor for a provider, falling back to the
// anthropic-style dialect.
func (m *Manager) executorFor(providerID string) *tools.Executor {
	if e, ok := m.executors[providerID]; ok {
		return e
	}
	return m.executors[providers.ProviderAnthropic]
}

// filterTools keeps the agent's allowed tools and drops its denied ones.
// Matching accepts either provider-facing or canonical names.
func filterTools(translated []tools.ProviderTool, translator tools.Translator, allowed, denied []string) []tools.ProviderTool {
	allowSet := nameSet(allowed)
	denySet := nameSet(denied)

	out := make([]tools.ProviderTool, 0, len(translated))
	for _, t := range translated {
		canonical, _ := translator.GetCanonicalName(t.Name)
		if len(allowSet) > 0 && !allowSet[t.Name] && !allowSet[canonical] {
			continue
		}
		if denySet[t.Name] || denySet[canonical] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// composeSystemPrompt folds the agent's persona, when it has one, into
// the system prompt. A missing persona is skipped so agents keep working
// after their persona is deleted.
func (m *Manager) composeSystemPrompt(ctx context.Context, agent *models.Agent, workflowAgents []*models.Agent) string {
	prompt := buildSystemPrompt(agent, workflowAgents)
	if m.personas == nil || agent.PersonaID == "" {
		return prompt
	}
	persona, err := m.personas.GetPersona(ctx, agent.PersonaID)
	if err != nil {
		m.logger.Warn("Failed to resolve persona, continuing without it",
			"agent_id", agent.ID, "persona_id", agent.PersonaID, "error", err)
		return prompt
	}

	var b strings.Builder
	b.WriteString(persona.Prompt)
	if len(persona.Traits) > 0 {
		b.WriteString("\nTraits: ")
		b.WriteString(strings.Join(persona.Traits, ", "))
	}
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String()
}

// buildSystemPrompt is the agent's system prompt plus, inside a
// multi-agent workflow, a delegation preamble enumerating the other
// available agents.
func buildSystemPrompt(agent *models.Agent, workflowAgents []*models.Agent) string {
	others := make([]*models.Agent, 0, len(workflowAgents))
	for _, a := range workflowAgents {
		if a.ID != agent.ID {
			others = append(others, a)
		}
	}
	if len(others) == 0 {
		return agent.SystemPrompt
	}

	var b strings.Builder
	b.WriteString(agent.SystemPrompt)
	b.WriteString("\n\nYou are part of a multi-agent workflow. You can delegate a task to another agent with the DelegateToAgent tool. Available agents:\n")
	for _, a := range others {
		b.WriteString("- ")
		b.WriteString(a.ID)
		if a.Role != "" {
			b.WriteString(": ")
			b.WriteString(a.Role)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Manager) publishSessionEvent(ctx context.Context, eventType string, sess *Session, messageID string) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishSessionEvent(ctx, eventType, events.SessionEventPayload{
		SessionID: sess.ID,
		ChatID:    sess.ChatID,
		AgentID:   sess.AgentID,
		MessageID: messageID,
		State:     string(sess.State()),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
