package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forge-ide/loom/pkg/contextwindow"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/tools"
)

// DelegateToAgentTool is the hidden tool agents call to hand work to
// another agent. Never advertised in provider tool lists; the delegation
// preamble in the system prompt tells agents it exists.
const DelegateToAgentTool = "DelegateToAgent"

// RegisterHandoffTool installs the DelegateToAgent hidden handler on a
// tool executor. Call once per provider executor at bootstrap.
func (e *Executor) RegisterHandoffTool(toolExec *tools.Executor) {
	toolExec.RegisterHiddenHandler(DelegateToAgentTool, e.handleDelegate)
}

// handleAgent resolves the step's agent, runs one send-and-stream loop
// against it with per-iteration message persistence, and records the final
// response as an agent_output context item.
func (e *Executor) handleAgent(ctx context.Context, exec *models.Execution, wf *models.Workflow, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	agentID := step.Agent
	if agentID == "" {
		agentID = wf.DefaultAgentID
	}
	if agentID == "" {
		agentID = "assistant"
	}
	agent, err := e.svc.Agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("agent %s unavailable: %w", agentID, err)
	}

	prompt, err := e.buildAgentPrompt(ctx, exec, step, node)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.GetOrCreate(ctx, exec.ID, agent.ID, "")
	if err != nil {
		return nil, err
	}
	if exec.WorkingDir != "" {
		if err := e.sessions.SetWorkingDir(sess.ID, exec.WorkingDir); err != nil {
			return nil, err
		}
	}
	if roster := e.workflowRoster(ctx, wf); len(roster) > 1 {
		if err := e.sessions.SetWorkflowAgents(sess.ID, roster); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.agentRuns[sess.ID] = &agentRun{executionID: exec.ID, nodeID: step.ID}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.agentRuns, sess.ID)
		e.mu.Unlock()
	}()

	stream := e.newMessageStream(ctx, exec.ID, agent.ID, node.ID)
	result, err := e.sessions.SendMessage(ctx, sess.ID, prompt, stream.onLoopEvent)
	if err != nil {
		stream.fail(ctx, err)
		return nil, fmt.Errorf("agent %s failed: %w", agent.ID, err)
	}
	stream.finish(ctx, result.FinalText)

	if !result.Cancelled && result.FinalText != "" {
		if _, cerr := e.svc.Contexts.AddItem(ctx, exec.ID, models.ContextItemAgentOutput, agent.ID, result.FinalText, exec.IterationCount); cerr != nil {
			e.logger.Warn("Failed to record agent output", "execution_id", exec.ID, "agent_id", agent.ID, "error", cerr)
		}
	}

	outcome := &stepOutcome{
		output:    result.FinalText,
		tokensIn:  result.Usage.InputTokens,
		tokensOut: result.Usage.OutputTokens,
	}

	e.mu.Lock()
	if next, ok := e.pendingHandoff[exec.ID]; ok {
		outcome.nextNodeID = next
		delete(e.pendingHandoff, exec.ID)
	}
	e.mu.Unlock()
	return outcome, nil
}

// buildAgentPrompt assembles the step prompt with the execution's active
// context: user inputs, previous agent outputs, surfaced feedback and
// compaction summaries, in creation order.
func (e *Executor) buildAgentPrompt(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (string, error) {
	items, err := e.svc.Contexts.ListActive(ctx, exec.ID)
	if err != nil {
		return "", err
	}

	prompt := step.Prompt
	if prompt == "" && step.PromptURL != "" && e.templates != nil {
		prompt, err = e.templates.Resolve(ctx, step.PromptURL)
		if err != nil {
			return "", fmt.Errorf("resolve prompt template for step %s: %w", step.ID, err)
		}
	}

	taskInput := ""
	if prompt == "" && node.Input != "" && node.Input != exec.InitialInput {
		taskInput = node.Input
	}

	var msgs []contextwindow.Message
	for _, item := range items {
		m := contextwindow.FromContextItem(item)
		switch item.ItemType {
		case models.ContextItemUserInput:
			m.Content = "User: " + item.Content
		case models.ContextItemAgentOutput:
			m.Content = fmt.Sprintf("[%s]: %s", item.AgentID, item.Content)
		case models.ContextItemFeedback:
			m.Content = "Feedback: " + item.Content
		case models.ContextItemCompaction:
			m.Content = "Summary of earlier work: " + item.Content
		default:
			// System and tool items live inside provider sessions, not in
			// assembled prompts.
			continue
		}
		msgs = append(msgs, m)
	}

	// Budget the context under the window, trimming oldest items first.
	// The prompt head and task input tail are never trimmed.
	res := contextwindow.Build(contextwindow.Input{
		SystemPrompt:     prompt,
		ActiveMessages:   msgs,
		ContextWindow:    e.contextWindow,
		TailInstructions: taskInput,
	})
	if res.ExceedsWindow {
		e.logger.Warn("Assembled prompt exceeds context window",
			"execution_id", exec.ID, "node_id", node.NodeID, "tokens", res.TotalTokens)
	}

	var b strings.Builder
	if prompt != "" {
		b.WriteString(prompt)
	}

	var contextLines []string
	for _, m := range res.Messages {
		// The synthetic head entry carries no ID; everything else came
		// from a context item.
		if m.ID == "" {
			continue
		}
		contextLines = append(contextLines, m.Content)
	}

	if len(contextLines) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Context so far:\n")
		b.WriteString(strings.Join(contextLines, "\n"))
	}

	if b.Len() == 0 {
		return node.Input, nil
	}
	if taskInput != "" {
		b.WriteString("\n\nTask input:\n")
		b.WriteString(taskInput)
	}
	return b.String(), nil
}

// workflowRoster resolves every distinct agent referenced by the workflow,
// for the delegation preamble.
func (e *Executor) workflowRoster(ctx context.Context, wf *models.Workflow) []*models.Agent {
	seen := make(map[string]bool)
	var roster []*models.Agent
	for i := range wf.Steps {
		id := wf.Steps[i].Agent
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		agent, err := e.svc.Agents.GetAgent(ctx, id)
		if err != nil {
			e.logger.Warn("Workflow references unknown agent", "agent_id", id, "error", err)
			continue
		}
		roster = append(roster, agent)
	}
	return roster
}

// runReviewerAgent backs the review panel Invoker: one send-and-stream
// loop per reviewer on a dedicated review chat, so reviewer transcripts do
// not leak into the worker sessions.
func (e *Executor) runReviewerAgent(ctx context.Context, exec *models.Execution, reviewer models.ReviewerConfig, subject string) (string, error) {
	sess, err := e.sessions.GetOrCreate(ctx, exec.ID+":review", reviewer.AgentID, "")
	if err != nil {
		return "", err
	}
	if exec.WorkingDir != "" {
		if err := e.sessions.SetWorkingDir(sess.ID, exec.WorkingDir); err != nil {
			return "", err
		}
	}

	prompt := subject
	if reviewer.Prompt != "" {
		prompt = reviewer.Prompt + "\n\n" + subject
	}
	result, err := e.sessions.SendMessage(ctx, sess.ID, prompt, nil)
	if err != nil {
		return "", err
	}
	return result.FinalText, nil
}

// handleDelegate is the hidden DelegateToAgent tool handler. It injects a
// dynamic agent node depending on the delegating node, bounded by
// MaxHandoffDepth per execution.
func (e *Executor) handleDelegate(ctx context.Context, use tools.ToolUse) (map[string]any, error) {
	e.mu.Lock()
	run := e.agentRuns[use.SessionID]
	e.mu.Unlock()
	if run == nil {
		return nil, fmt.Errorf("no active workflow agent for session %s", use.SessionID)
	}

	target, _ := use.Input["agentId"].(string)
	if target == "" {
		return nil, fmt.Errorf("agentId is required")
	}
	message, _ := use.Input["message"].(string)
	handoffContext, _ := use.Input["context"].(string)

	e.mu.Lock()
	if e.handoffDepth[run.executionID] >= MaxHandoffDepth {
		e.mu.Unlock()
		e.logger.Warn("Handoff depth limit reached; continuing without delegation",
			"execution_id", run.executionID, "target", target)
		return map[string]any{"delegated": false, "reason": "handoff depth limit reached"}, nil
	}
	e.handoffDepth[run.executionID]++

	nodeID := fmt.Sprintf("handoff-%s-%d-%s", run.executionID, time.Now().UnixMilli(), target)
	dynStep := &models.WorkflowStep{
		ID:      nodeID,
		Type:    models.NodeTypeAgent,
		Agent:   target,
		Prompt:  message,
		Depends: []string{run.nodeID},
	}
	if e.dynamicNodes[run.executionID] == nil {
		e.dynamicNodes[run.executionID] = make(map[string]*models.WorkflowStep)
	}
	e.dynamicNodes[run.executionID][nodeID] = dynStep
	e.pendingHandoff[run.executionID] = nodeID
	e.mu.Unlock()

	if handoffContext != "" {
		exec, err := e.svc.Executions.GetExecution(ctx, run.executionID)
		iteration := 0
		if err == nil {
			iteration = exec.IterationCount
		}
		if _, cerr := e.svc.Contexts.AddItem(ctx, run.executionID, models.ContextItemSystem, target,
			"Handoff context: "+handoffContext, iteration); cerr != nil {
			e.logger.Warn("Failed to record handoff context", "execution_id", run.executionID, "error", cerr)
		}
	}

	if e.publisher != nil {
		e.publisher.PublishNodeActivity(ctx, run.executionID, nodeID, events.ActivityHandoff, target, 0)
	}
	e.logger.Info("Agent handoff", "execution_id", run.executionID, "from_node", run.nodeID, "target", target)
	return map[string]any{"delegated": true, "nodeId": nodeID}, nil
}

// messageStream materializes each tool-use cycle of one agent call as a
// separate chat message, so the UI renders thinking/tool-use iterations
// distinctly from the final answer.
type messageStream struct {
	e           *Executor
	executionID string
	agentID     string
	nodeExecID  string

	mu  sync.Mutex
	msg *models.Message
	buf strings.Builder
}

func (e *Executor) newMessageStream(ctx context.Context, executionID, agentID, nodeExecID string) *messageStream {
	s := &messageStream{e: e, executionID: executionID, agentID: agentID, nodeExecID: nodeExecID}
	msg, err := e.svc.Messages.StartStreamingMessage(ctx, executionID, agentID, nodeExecID)
	if err != nil {
		e.logger.Warn("Failed to start streaming message", "execution_id", executionID, "error", err)
		return s
	}
	s.msg = msg
	return s
}

func (s *messageStream) onLoopEvent(ev session.LoopEvent) {
	// Loop callbacks arrive sequentially; the mutex guards against the
	// executor reading the stream state concurrently.
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

	switch ev.Type {
	case session.EventMessageDelta:
		s.buf.WriteString(ev.Delta)
		if s.msg != nil {
			if err := s.e.svc.Messages.AppendStreamContent(ctx, s.msg, s.buf.String(), ev.Delta); err != nil {
				s.e.logger.Warn("Failed to append stream content", "message_id", s.msg.ID, "error", err)
			}
		}
	case session.EventToolUseStarted:
		if s.msg != nil && s.e.publisher != nil && ev.ToolUse != nil {
			s.e.publisher.PublishMessageToolUse(ctx, s.executionID, events.MessageToolUsePayload{
				MessageID: s.msg.ID,
				ToolName:  ev.ToolUse.ToolName,
				ToolInput: ev.ToolUse.ToolInput,
			})
		}
	case session.EventIterationComplete:
		if !ev.HasToolUse {
			// Final iteration; finish() closes the message.
			return
		}
		if s.msg != nil {
			if err := s.e.svc.Messages.CompleteMessage(ctx, s.msg, s.buf.String(), true, false); err != nil {
				s.e.logger.Warn("Failed to complete tool-use message", "message_id", s.msg.ID, "error", err)
			}
		}
		s.buf.Reset()
		msg, err := s.e.svc.Messages.StartStreamingMessage(ctx, s.executionID, s.agentID, s.nodeExecID)
		if err != nil {
			s.e.logger.Warn("Failed to start next streaming message", "execution_id", s.executionID, "error", err)
			s.msg = nil
			return
		}
		s.msg = msg
	}
}

// finish closes the last message as the final iteration.
func (s *messageStream) finish(ctx context.Context, finalContent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg == nil {
		return
	}
	if finalContent == "" {
		finalContent = s.buf.String()
	}
	if err := s.e.svc.Messages.CompleteMessage(ctx, s.msg, finalContent, false, true); err != nil {
		s.e.logger.Warn("Failed to complete final message", "message_id", s.msg.ID, "error", err)
	}
	s.msg = nil
}

// fail closes the stream after a provider error.
func (s *messageStream) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg == nil {
		return
	}
	if s.e.publisher != nil {
		s.e.publisher.PublishMessageError(ctx, s.executionID, s.msg.ID, err.Error())
	}
	if cerr := s.e.svc.Messages.CompleteMessage(ctx, s.msg, s.buf.String(), false, false); cerr != nil {
		s.e.logger.Warn("Failed to close errored message", "message_id", s.msg.ID, "error", cerr)
	}
	s.msg = nil
}
