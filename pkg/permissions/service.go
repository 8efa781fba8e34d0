package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/tools"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrRequestNotFound    = errors.New("approval request not found")
	ErrMaxPendingExceeded = errors.New("too many pending approval requests")
	ErrTerminalGlobal     = errors.New("terminal tools cannot be approved globally")
	ErrFolderPathRequired = errors.New("folder scope requires a folder path")
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed  bool             `json:"allowed"`
	Approval *models.Approval `json:"approval,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// EventType enumerates store change notifications.
type EventType string

const (
	EventApprovalAdded    EventType = "approval_added"
	EventApprovalRemoved  EventType = "approval_removed"
	EventApprovalsCleared EventType = "approvals_cleared"
)

// Event is delivered to subscribers on every store change. Approval is nil
// for approvals_cleared.
type Event struct {
	Type     EventType
	Approval *models.Approval
}

// Subscriber receives store change events. Panics are caught and logged.
type Subscriber func(Event)

// Service is the scoped permission store consulted before every tool
// invocation. Lookup priority is global, then session, then folder.
// Grants are keyed by canonical tool name so a grant covers the tool in
// every provider dialect. The in-memory maps are the working set; folder
// and global grants are mirrored to the permissions table.
type Service struct {
	db        *database.Client
	publisher *events.Publisher

	mu          sync.RWMutex
	global      map[string]*models.Approval
	session     map[string]map[string]*models.Approval
	folder      map[string]map[string]*models.Approval
	defaults    map[string]bool
	subscribers []Subscriber

	pendingMu      sync.Mutex
	pending        map[string]*pendingRequest
	requestTimeout time.Duration
	maxPending     int
}

// Config tunes the pending-request flow.
type Config struct {
	RequestTimeout time.Duration
	MaxPending     int
}

// NewService creates a permission service with the default auto-approved
// set pre-loaded at global scope. db and publisher may be nil in tests.
func NewService(db *database.Client, publisher *events.Publisher, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 100
	}

	s := &Service{
		db:             db,
		publisher:      publisher,
		global:         make(map[string]*models.Approval),
		session:        make(map[string]map[string]*models.Approval),
		folder:         make(map[string]map[string]*models.Approval),
		defaults:       make(map[string]bool),
		pending:        make(map[string]*pendingRequest),
		requestTimeout: cfg.RequestTimeout,
		maxPending:     cfg.MaxPending,
	}
	s.loadDefaults()
	return s
}

// loadDefaults installs the default auto-approved grants. Terminal-category
// tools are refused here no matter what the list says.
func (s *Service) loadDefaults() {
	now := time.Now().UTC()
	for _, canonical := range defaultAutoApproved() {
		if def, ok := tools.Lookup(canonical); ok && def.Category == tools.CategoryTerminal {
			slog.Error("Refusing to auto-approve terminal tool", "tool", canonical)
			continue
		}
		s.global[canonical] = &models.Approval{
			ToolName:  canonical,
			Scope:     models.ScopeGlobal,
			GrantedAt: now,
		}
		s.defaults[canonical] = true
	}
}

// Hydrate loads persisted folder and global grants into the working set.
// Expired rows are purged first.
func (s *Service) Hydrate(httpCtx context.Context) error {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.DeleteExpiredApprovals(ctx); err != nil {
		slog.Warn("Failed to purge expired approvals", "error", err)
	}

	approvals, err := s.db.ListApprovals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load approvals: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, a := range approvals {
		switch a.Scope {
		case models.ScopeGlobal:
			s.global[a.ToolName] = a
			loaded++
		case models.ScopeFolder:
			prefix := folderPrefix(a.FolderPath)
			if s.folder[prefix] == nil {
				s.folder[prefix] = make(map[string]*models.Approval)
			}
			s.folder[prefix][a.ToolName] = a
			loaded++
		}
	}
	slog.Info("Permission store hydrated", "grants", loaded)
	return nil
}

// Check searches for a grant covering a tool invocation. Priority: global,
// then session, then folder (longest matching prefix). Expired grants are
// removed on discovery. Terminal-category tools never match the global
// tier.
func (s *Service) Check(toolName, sessionID, targetPath string) Decision {
	canonical := s.canonicalName(toolName)
	now := time.Now().UTC()

	terminal := false
	if def, ok := tools.Lookup(canonical); ok {
		terminal = def.Category == tools.CategoryTerminal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !terminal {
		if a, ok := s.global[canonical]; ok {
			if a.Expired(now) {
				s.removeLocked(a)
			} else {
				return Decision{Allowed: true, Approval: a}
			}
		}
	}

	if sessionID != "" {
		if grants, ok := s.session[sessionID]; ok {
			if a, ok := grants[canonical]; ok {
				if a.Expired(now) {
					s.removeLocked(a)
				} else {
					return Decision{Allowed: true, Approval: a}
				}
			}
		}
	}

	if targetPath != "" {
		target := strings.TrimSuffix(normalizePath(targetPath), "/") + "/"
		var best *models.Approval
		bestLen := -1
		for prefix, grants := range s.folder {
			a, ok := grants[canonical]
			if !ok || !strings.HasPrefix(target, prefix) {
				continue
			}
			if a.Expired(now) {
				s.removeLocked(a)
				continue
			}
			if len(prefix) > bestLen {
				best = a
				bestLen = len(prefix)
			}
		}
		if best != nil {
			return Decision{Allowed: true, Approval: best}
		}
	}

	return Decision{Reason: fmt.Sprintf("no approval covers %s", toolName)}
}

// AddSession grants a tool for the rest of one session. Session grants are
// transient: never persisted, never exported.
func (s *Service) AddSession(sessionID, toolName string, expiresAt *time.Time) *models.Approval {
	a := &models.Approval{
		ID:        uuid.New().String(),
		ToolName:  s.canonicalName(toolName),
		Scope:     models.ScopeSession,
		SessionID: sessionID,
		GrantedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}

	s.mu.Lock()
	if s.session[sessionID] == nil {
		s.session[sessionID] = make(map[string]*models.Approval)
	}
	s.session[sessionID][a.ToolName] = a
	s.mu.Unlock()

	s.emit(Event{Type: EventApprovalAdded, Approval: a})
	return a
}

// AddFolder grants a tool for targets under a folder prefix.
func (s *Service) AddFolder(folderPath, toolName string, expiresAt *time.Time) (*models.Approval, error) {
	if folderPath == "" {
		return nil, ErrFolderPathRequired
	}
	prefix := folderPrefix(folderPath)
	a := &models.Approval{
		ID:         uuid.New().String(),
		ToolName:   s.canonicalName(toolName),
		Scope:      models.ScopeFolder,
		FolderPath: prefix,
		GrantedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}

	s.mu.Lock()
	if s.folder[prefix] == nil {
		s.folder[prefix] = make(map[string]*models.Approval)
	}
	s.folder[prefix][a.ToolName] = a
	s.mu.Unlock()

	s.persist(a)
	s.emit(Event{Type: EventApprovalAdded, Approval: a})
	return a, nil
}

// AddGlobal grants a tool everywhere. Terminal-category tools are refused.
func (s *Service) AddGlobal(toolName string) (*models.Approval, error) {
	canonical := s.canonicalName(toolName)
	if def, ok := tools.Lookup(canonical); ok && def.Category == tools.CategoryTerminal {
		return nil, ErrTerminalGlobal
	}
	a := &models.Approval{
		ID:        uuid.New().String(),
		ToolName:  canonical,
		Scope:     models.ScopeGlobal,
		GrantedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.global[canonical] = a
	s.mu.Unlock()

	s.persist(a)
	s.emit(Event{Type: EventApprovalAdded, Approval: a})
	return a, nil
}

// RemoveSession revokes a session grant.
func (s *Service) RemoveSession(sessionID, toolName string) {
	canonical := s.canonicalName(toolName)

	s.mu.Lock()
	var removed *models.Approval
	if grants, ok := s.session[sessionID]; ok {
		removed = grants[canonical]
		delete(grants, canonical)
		if len(grants) == 0 {
			delete(s.session, sessionID)
		}
	}
	s.mu.Unlock()

	if removed != nil {
		s.emit(Event{Type: EventApprovalRemoved, Approval: removed})
	}
}

// RemoveFolder revokes a folder grant.
func (s *Service) RemoveFolder(folderPath, toolName string) {
	canonical := s.canonicalName(toolName)
	prefix := folderPrefix(folderPath)

	s.mu.Lock()
	var removed *models.Approval
	if grants, ok := s.folder[prefix]; ok {
		removed = grants[canonical]
		delete(grants, canonical)
		if len(grants) == 0 {
			delete(s.folder, prefix)
		}
	}
	s.mu.Unlock()

	if removed != nil {
		s.unpersist(removed)
		s.emit(Event{Type: EventApprovalRemoved, Approval: removed})
	}
}

// RemoveGlobal revokes a global grant. Removing a default auto-approved
// tool drops it for the rest of the process lifetime.
func (s *Service) RemoveGlobal(toolName string) {
	canonical := s.canonicalName(toolName)

	s.mu.Lock()
	removed := s.global[canonical]
	delete(s.global, canonical)
	delete(s.defaults, canonical)
	s.mu.Unlock()

	if removed != nil {
		s.unpersist(removed)
		s.emit(Event{Type: EventApprovalRemoved, Approval: removed})
	}
}

// ClearSession drops every grant of one session, typically on session end.
func (s *Service) ClearSession(sessionID string) {
	s.mu.Lock()
	_, had := s.session[sessionID]
	delete(s.session, sessionID)
	s.mu.Unlock()

	if had {
		s.emit(Event{Type: EventApprovalsCleared})
	}
}

// ClearAll wipes every grant except the default auto-approved set.
func (s *Service) ClearAll() {
	s.mu.Lock()
	for name := range s.global {
		if !s.defaults[name] {
			delete(s.global, name)
		}
	}
	s.session = make(map[string]map[string]*models.Approval)
	s.folder = make(map[string]map[string]*models.Approval)
	s.mu.Unlock()

	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.db.DeleteApprovals(ctx); err != nil {
			slog.Warn("Failed to clear persisted approvals", "error", err)
		}
	}
	s.emit(Event{Type: EventApprovalsCleared})
}

// List returns every live grant, defaults included.
func (s *Service) List() []*models.Approval {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Approval
	for _, a := range s.global {
		out = append(out, a)
	}
	for _, grants := range s.session {
		for _, a := range grants {
			out = append(out, a)
		}
	}
	for _, grants := range s.folder {
		for _, a := range grants {
			out = append(out, a)
		}
	}
	return out
}

// Subscribe registers a store change listener.
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// emit delivers an event to all subscribers. A panicking subscriber is
// logged and skipped, never propagated.
func (s *Service) emit(event Event) {
	s.mu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Permission subscriber panicked", "event", event.Type, "panic", r)
				}
			}()
			sub(event)
		}()
	}
}

// removeLocked drops an expired grant from whichever tier holds it.
// Caller holds s.mu.
func (s *Service) removeLocked(a *models.Approval) {
	switch a.Scope {
	case models.ScopeGlobal:
		delete(s.global, a.ToolName)
		delete(s.defaults, a.ToolName)
	case models.ScopeSession:
		if grants, ok := s.session[a.SessionID]; ok {
			delete(grants, a.ToolName)
		}
	case models.ScopeFolder:
		if grants, ok := s.folder[a.FolderPath]; ok {
			delete(grants, a.ToolName)
		}
	}
	go s.unpersist(a)
	slog.Debug("Removed expired approval", "tool", a.ToolName, "scope", a.Scope)
}

func (s *Service) persist(a *models.Approval) {
	if s.db == nil || a.Scope == models.ScopeSession || a.Scope == models.ScopeOnce {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.SaveApproval(ctx, a); err != nil {
		slog.Warn("Failed to persist approval", "tool", a.ToolName, "scope", a.Scope, "error", err)
	}
}

func (s *Service) unpersist(a *models.Approval) {
	if s.db == nil || a.Scope == models.ScopeSession || a.Scope == models.ScopeOnce {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.DeleteApproval(ctx, a.ToolName, a.Scope, a.FolderPath); err != nil {
		slog.Warn("Failed to delete persisted approval", "tool", a.ToolName, "error", err)
	}
}

// dialects are consulted in order when normalizing provider-facing names.
var dialects = []tools.Translator{
	tools.NewAnthropicTranslator(),
	tools.NewOpenAITranslator(),
	tools.NewGeminiTranslator(),
}

// canonicalName normalizes a provider-facing tool name to its canonical
// dotted form so one grant covers the tool in every dialect. Names with no
// catalog entry (custom tools) are kept as given.
func (s *Service) canonicalName(toolName string) string {
	if _, ok := tools.Lookup(toolName); ok {
		return toolName
	}
	for _, tr := range dialects {
		if canonical, ok := tr.GetCanonicalName(toolName); ok {
			return canonical
		}
	}
	return toolName
}

// normalizePath converts backslashes to forward slashes.
func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// folderPrefix normalizes a folder path for prefix matching: forward
// slashes and exactly one trailing slash.
func folderPrefix(p string) string {
	return strings.TrimSuffix(normalizePath(p), "/") + "/"
}
