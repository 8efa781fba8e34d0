package session

import (
	"context"
	"fmt"
	"time"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/tools"
)

// maxLoopIterations bounds runaway tool-use loops within one SendMessage.
const maxLoopIterations = 50

// SendMessage runs the send-and-stream loop: repair orphans, call the
// provider, execute requested tools under permission gating, feed results
// back, repeat until the model stops asking for tools or the loop is
// cancelled. onEvent may be nil.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string, onEvent OnLoopEvent) (*SendResult, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.compareAndSetState(StateIdle, StateStreaming) {
		return nil, fmt.Errorf("session %s is busy (state %s)", sessionID, sess.State())
	}
	defer sess.setState(StateIdle)

	agent, err := m.agents.GetAgent(ctx, sess.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", sess.AgentID, err)
	}
	provider, err := m.registry.Get(sess.ProviderID)
	if err != nil {
		return nil, err
	}
	executor := m.executorFor(sess.ProviderID)
	if executor == nil {
		return nil, fmt.Errorf("no tool executor for provider %s", sess.ProviderID)
	}
	translator := executor.Translator()

	sess.mu.Lock()
	workflowAgents := sess.workflowAgents
	sess.mu.Unlock()

	req := providers.Request{
		Model:        agent.Model,
		SystemPrompt: m.composeSystemPrompt(ctx, agent, workflowAgents),
		Tools:        filterTools(translator.ToProviderTools(tools.Catalog()), translator, agent.Tools, agent.DeniedTools),
		MaxTokens:    m.cfg.MaxTokens,
	}

	// A restored transcript can end in an unanswered tool_use; the repair
	// has to land before the user turn so the tool_result stays adjacent
	// to its tool_use on the wire.
	repairOrphans(sess)
	sess.appendHistory(providers.TextMessage(providers.RoleUser, text))
	m.publishSessionEvent(ctx, events.EventTypeMessageAdded, sess, "")

	emit := func(ev LoopEvent) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	result := &SendResult{}
	previousContent := ""

	for iteration := 1; iteration <= maxLoopIterations; iteration++ {
		if sess.State() == StateCancelled || ctx.Err() != nil {
			break
		}

		// The wire invariant every Anthropic-style dialect enforces:
		// no tool_use without its tool_result before the next call.
		repairOrphans(sess)

		if iteration >= 2 {
			emit(LoopEvent{Type: EventIterationStart, Iteration: iteration, PreviousIterationContent: previousContent})
		}

		m.resumeProviderSession(provider, sess)

		req.Messages = sess.History()
		req.WorkingDir = sess.workingDir()

		resp, err := m.streamOnce(ctx, provider, req, sess, emit)
		result.Iterations = iteration
		if err != nil {
			if sess.State() == StateCancelled || ctx.Err() != nil {
				break
			}
			emit(LoopEvent{Type: EventError, Iteration: iteration, Err: err})
			return nil, fmt.Errorf("provider call failed: %w", err)
		}

		m.captureProviderSession(provider, sess)
		sess.appendHistory(resp.Message)
		sess.addUsage(resp.Usage)
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		m.publishSessionEvent(ctx, events.EventTypeMessageAdded, sess, "")

		previousContent = resp.Message.Text()
		result.FinalText = previousContent

		toolUses := resp.Message.ToolUses()
		if resp.StopReason != providers.StopToolUse || len(toolUses) == 0 {
			emit(LoopEvent{Type: EventIterationComplete, Iteration: iteration, HasToolUse: false})
			break
		}
		emit(LoopEvent{Type: EventIterationComplete, Iteration: iteration, HasToolUse: true})

		if !m.runToolUses(ctx, sess, executor, toolUses, iteration, emit) {
			break
		}
	}

	if cancelled := sess.State() == StateCancelled; cancelled || ctx.Err() != nil {
		result.Cancelled = true
		provider.Cancel()
		repairOrphans(sess)
	}
	sess.setState(StateIdle)
	m.publishSessionEvent(ctx, events.EventTypeSessionUpdated, sess, "")
	emit(LoopEvent{Type: EventLoopComplete, Iteration: result.Iterations})
	return result, nil
}

// streamOnce performs one provider call, preferring the streaming path and
// forwarding deltas to both the loop callback and the event bus.
func (m *Manager) streamOnce(ctx context.Context, provider providers.Provider, req providers.Request, sess *Session, emit func(LoopEvent)) (*providers.Response, error) {
	if !provider.Capabilities().Streaming {
		return provider.Chat(ctx, req)
	}
	return provider.ChatStream(ctx, req, func(ev providers.StreamEvent) {
		switch ev.Type {
		case providers.StreamTextDelta:
			emit(LoopEvent{Type: EventMessageDelta, Delta: ev.Text})
			if m.publisher != nil {
				m.publisher.PublishStreamEvent(sess.ID, events.StreamEventPayload{
					Kind:  string(ev.Type),
					Delta: ev.Text,
				})
			}
		case providers.StreamToolUseStart, providers.StreamToolUseEnd:
			if m.publisher != nil && ev.ToolUse != nil {
				m.publisher.PublishStreamEvent(sess.ID, events.StreamEventPayload{
					Kind:     string(ev.Type),
					ToolName: ev.ToolUse.ToolName,
				})
			}
		case providers.StreamMessageEnd:
			emit(LoopEvent{Type: EventMessageEnd})
			if m.publisher != nil {
				m.publisher.PublishStreamEvent(sess.ID, events.StreamEventPayload{Kind: string(ev.Type)})
			}
		}
	})
}

// runToolUses gates and executes each tool_use block from one assistant
// turn, appending exactly one tool_result per tool_use. Returns false when
// the loop should stop (cancellation observed).
func (m *Manager) runToolUses(ctx context.Context, sess *Session, executor *tools.Executor, toolUses []providers.ContentBlock, iteration int, emit func(LoopEvent)) bool {
	sess.compareAndSetState(StateStreaming, StateWaitingForTool)
	defer sess.compareAndSetState(StateWaitingForTool, StateStreaming)

	results := providers.ChatMessage{Role: providers.RoleTool, Timestamp: time.Now().UTC()}
	stop := false

	for i := range toolUses {
		use := toolUses[i]
		if stop || sess.State() == StateCancelled || ctx.Err() != nil {
			results.Blocks = append(results.Blocks, cancelledResult(use.ToolUseID))
			stop = true
			continue
		}

		var approved, autoApproved, denied bool
		var scope models.ApprovalScope
		if executor.IsHidden(use.ToolName) {
			// Workflow-internal tools never leave the process; no gate.
			approved, autoApproved, scope = true, true, models.ScopeGlobal
		} else {
			approved, autoApproved, scope, denied = m.gateToolUse(ctx, sess, &use, iteration, emit)
		}
		if denied {
			results.Blocks = append(results.Blocks, providers.ContentBlock{
				Type:      providers.BlockToolResult,
				ToolUseID: use.ToolUseID,
				Content:   deniedToolResultContent,
				IsError:   true,
			})
			continue
		}
		if !approved {
			// Cancelled while awaiting permission.
			results.Blocks = append(results.Blocks, cancelledResult(use.ToolUseID))
			stop = true
			continue
		}

		emit(LoopEvent{Type: EventToolUseStarted, Iteration: iteration, ToolUse: &use, AutoApproved: autoApproved, ApprovalScope: scope})

		toolResult := executor.Execute(ctx, tools.ToolUse{
			ID:         use.ToolUseID,
			Name:       use.ToolName,
			Input:      use.ToolInput,
			SessionID:  sess.ID,
			WorkingDir: sess.workingDir(),
			Caller:     models.Caller{Type: models.CallerAgent, AgentID: sess.AgentID},
		})
		emit(LoopEvent{Type: EventToolUseResult, Iteration: iteration, ToolUse: &use, Result: &toolResult})

		results.Blocks = append(results.Blocks, providers.ContentBlock{
			Type:      providers.BlockToolResult,
			ToolUseID: use.ToolUseID,
			Content:   toolResult.Render(),
			IsError:   !toolResult.Success,
		})
	}

	sess.appendHistory(results)
	m.publishSessionEvent(ctx, events.EventTypeMessageAdded, sess, "")
	return !stop && sess.State() != StateCancelled
}

// gateToolUse applies the three-tier permission check and, when no grant
// covers the call, blocks on a pending human decision. Terminal tools
// always go through the pending-request flow.
func (m *Manager) gateToolUse(ctx context.Context, sess *Session, use *providers.ContentBlock, iteration int, emit func(LoopEvent)) (approved, autoApproved bool, scope models.ApprovalScope, denied bool) {
	if m.permissions == nil {
		return true, true, models.ScopeGlobal, false
	}

	targetPath := extractTargetPath(use.ToolInput)
	if targetPath == "" {
		targetPath = sess.workingDir()
	}

	decision := m.permissions.Check(use.ToolName, sess.ID, targetPath)
	if decision.Allowed {
		s := models.ScopeSession
		if decision.Approval != nil {
			s = decision.Approval.Scope
		}
		return true, true, s, false
	}

	req, done, err := m.permissions.Request(use.ToolName, use.ToolInput, sess.ID, sess.AgentID, "")
	if err != nil {
		m.logger.Warn("Permission request rejected", "tool", use.ToolName, "error", err)
		return false, false, "", true
	}

	sess.compareAndSetState(StateWaitingForTool, StateAwaitingPermission)
	defer sess.compareAndSetState(StateAwaitingPermission, StateWaitingForTool)
	emit(LoopEvent{Type: EventToolUseRequest, Iteration: iteration, ToolUse: use, RequestID: req.ID})

	select {
	case <-ctx.Done():
		return false, false, "", false
	case res := <-done:
		if sess.State() == StateCancelled {
			return false, false, "", false
		}
		if !res.Approved {
			return false, false, "", true
		}
		return true, false, res.Scope, false
	}
}

// resumeProviderSession pushes a stored provider-side session id before a
// call, for providers that can resume their own context.
func (m *Manager) resumeProviderSession(provider providers.Provider, sess *Session) {
	resumer, ok := provider.(providers.SessionResumer)
	if !ok {
		return
	}
	sess.mu.Lock()
	cli := sess.CLISessionID
	sess.mu.Unlock()
	if cli != "" {
		resumer.SetSessionID(cli)
	}
}

// captureProviderSession stores the provider-side session id after a call.
func (m *Manager) captureProviderSession(provider providers.Provider, sess *Session) {
	resumer, ok := provider.(providers.SessionResumer)
	if !ok {
		return
	}
	if id := resumer.SessionID(); id != "" {
		sess.mu.Lock()
		sess.CLISessionID = id
		sess.mu.Unlock()
	}
}

// repairOrphans appends an error tool_result for every tool_use id in the
// history without a matching tool_result. Runs before every provider call
// and after cancellation.
func repairOrphans(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	answered := make(map[string]bool)
	for _, msg := range sess.history {
		for _, b := range msg.Blocks {
			if b.Type == providers.BlockToolResult {
				answered[b.ToolUseID] = true
			}
		}
	}

	var orphanBlocks []providers.ContentBlock
	for _, msg := range sess.history {
		for _, b := range msg.Blocks {
			if b.Type == providers.BlockToolUse && !answered[b.ToolUseID] {
				orphanBlocks = append(orphanBlocks, providers.ContentBlock{
					Type:      providers.BlockToolResult,
					ToolUseID: b.ToolUseID,
					Content:   cancelledToolResultContent,
					IsError:   true,
				})
			}
		}
	}
	if len(orphanBlocks) == 0 {
		return
	}
	sess.history = append(sess.history, providers.ChatMessage{
		Role:      providers.RoleTool,
		Blocks:    orphanBlocks,
		Timestamp: time.Now().UTC(),
	})
	sess.UpdatedAt = time.Now().UTC()
}

func cancelledResult(toolUseID string) providers.ContentBlock {
	return providers.ContentBlock{
		Type:      providers.BlockToolResult,
		ToolUseID: toolUseID,
		Content:   cancelledToolResultContent,
		IsError:   true,
	}
}

// targetPathKeys are the input fields, in priority order, that may carry
// the filesystem target of a tool call for folder-scope permission checks.
var targetPathKeys = []string{"file_path", "filePath", "path", "folder_path", "directory", "dir", "cwd"}

func extractTargetPath(input map[string]any) string {
	for _, key := range targetPathKeys {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Session) workingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WorkingDir
}
