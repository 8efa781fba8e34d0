// Package workflow drives DAG workflow executions: one ExecuteStep call is
// one unit of progress, dispatching the next ready node to its type handler
// and persisting the outcome. The queue layer calls ExecuteStep repeatedly
// until the execution pauses or reaches a terminal state.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/templates"
)

// MaxHandoffDepth bounds agent-to-agent delegation chains per execution.
const MaxHandoffDepth = 5

// defaultContextWindow is the assumed model context budget when the
// deployment does not configure one.
const defaultContextWindow = 200000

// Services bundles the state services the executor and the API share.
type Services struct {
	Executions  *services.ExecutionService
	Nodes       *services.NodeExecutionService
	Messages    *services.MessageService
	Contexts    *services.ContextService
	Checkpoints *services.CheckpointService
	Feedback    *services.FeedbackService
	Workflows   *services.WorkflowService
	Agents      *services.AgentService
	Personas    *services.PersonaService
	Panels      *services.PanelService
}

// Executor is the workflow scheduler. Safe for concurrent use across
// executions; within one execution, callers must serialize ExecuteStep.
type Executor struct {
	svc           Services
	sessions      *session.Manager
	publisher     *events.Publisher
	templates     *templates.Service
	contextWindow int
	logger        *slog.Logger

	mu sync.Mutex
	// Dynamic nodes injected by agent handoffs, keyed execution → node ID.
	dynamicNodes map[string]map[string]*models.WorkflowStep
	handoffDepth map[string]int
	// Pending handoff target per execution, consumed by the agent handler.
	pendingHandoff map[string]string
	// Live agent-node runs keyed by AI session ID, so the hidden
	// DelegateToAgent handler can find its execution.
	agentRuns map[string]*agentRun
	// Loop node counters keyed "executionID/nodeID".
	loopCounters map[string]int
}

type agentRun struct {
	executionID string
	nodeID      string
}

// NewExecutor wires the workflow executor.
func NewExecutor(svc Services, sessions *session.Manager, publisher *events.Publisher) *Executor {
	return &Executor{
		svc:            svc,
		sessions:       sessions,
		publisher:      publisher,
		contextWindow:  defaultContextWindow,
		logger:         slog.With("component", "workflow"),
		dynamicNodes:   make(map[string]map[string]*models.WorkflowStep),
		handoffDepth:   make(map[string]int),
		pendingHandoff: make(map[string]string),
		agentRuns:      make(map[string]*agentRun),
		loopCounters:   make(map[string]int),
	}
}

// SetTemplates installs the remote prompt template resolver. Optional;
// without it, steps that carry only a promptUrl run with their raw input.
func (e *Executor) SetTemplates(svc *templates.Service) {
	e.templates = svc
}

// SetContextWindow overrides the assumed model context budget used when
// assembling agent prompts.
func (e *Executor) SetContextWindow(tokens int) {
	if tokens > 0 {
		e.contextWindow = tokens
	}
}

// StepResult reports what one ExecuteStep call did.
type StepResult struct {
	// NodeID is the node that ran, or "" when no node was ready.
	NodeID string
	// Done reports that the execution reached a terminal state.
	Done bool
	// Paused reports that the execution is waiting on human input.
	Paused bool
}

// stepOutcome is a handler's verdict for one node run.
type stepOutcome struct {
	output string
	// nextNodeID routes explicitly; "" defers to the readiness rule.
	nextNodeID string
	// bumpIteration starts a new workflow iteration before the next node.
	bumpIteration bool
	// pause moves the execution to awaiting_input (or paused).
	pause       bool
	pauseStatus models.ExecutionStatus
	// complete finishes the whole execution with output as final output.
	complete  bool
	tokensIn  int
	tokensOut int
}

// Start transitions an execution to running and records its initial
// input. The queue calls it once per execution, right after claiming it;
// a claimed execution is already in running status at the database level,
// so both pending and running are accepted here.
func (e *Executor) Start(ctx context.Context, executionID string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusPending && exec.Status != models.ExecutionStatusRunning {
		return services.NewValidationError("status", fmt.Sprintf("cannot start execution in status %s", exec.Status))
	}
	if _, err := e.svc.Executions.UpdateStatus(ctx, executionID, models.ExecutionStatusRunning, ""); err != nil {
		return err
	}
	if exec.InitialInput != "" {
		if _, err := e.svc.Contexts.AddItem(ctx, executionID, models.ContextItemUserInput, "", exec.InitialInput, 0); err != nil {
			e.logger.Warn("Failed to record initial input", "execution_id", executionID, "error", err)
		}
	}
	return nil
}

// ExecuteStep performs one unit of progress: select the next node, run its
// handler, persist the outcome. Returns Done when nothing is left to run.
func (e *Executor) ExecuteStep(ctx context.Context, executionID string) (*StepResult, error) {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionStatusRunning {
		return nil, services.NewValidationError("status", fmt.Sprintf("execution is %s, not running", exec.Status))
	}

	wf, err := e.svc.Workflows.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}

	completed, err := e.svc.Nodes.CompletedNodeIDs(ctx, executionID, exec.IterationCount)
	if err != nil {
		return nil, err
	}

	step := e.selectStep(wf, exec, completed)
	if step == nil {
		return e.completeExecution(ctx, exec, exec.FinalOutput)
	}

	if exec.IterationCount >= exec.MaxIterations {
		return e.failExecution(ctx, exec, nil,
			fmt.Sprintf("iteration budget exhausted (%d/%d)", exec.IterationCount, exec.MaxIterations))
	}

	if !models.KnownNodeTypes[step.Type] {
		return e.failExecution(ctx, exec, nil, fmt.Sprintf("unknown node type %q on step %s", step.Type, step.ID))
	}

	input, err := e.nodeInput(ctx, exec, step)
	if err != nil {
		return e.failExecution(ctx, exec, nil, err.Error())
	}

	node, err := e.svc.Nodes.StartNode(ctx, executionID, step.ID, step.Type, exec.IterationCount, input)
	if err != nil {
		return nil, err
	}

	outcome, err := e.dispatch(ctx, exec, wf, step, node)
	if err != nil {
		if ferr := e.svc.Nodes.FailNode(ctx, node, err.Error()); ferr != nil {
			e.logger.Warn("Failed to record node failure", "node_id", step.ID, "error", ferr)
		}
		return e.failExecution(ctx, exec, node, err.Error())
	}

	// Cancellation lands while handlers are in flight; observe it on
	// return and stop advancing state.
	if fresh, gerr := e.svc.Executions.GetExecution(ctx, executionID); gerr == nil && fresh.Status == models.ExecutionStatusCancelled {
		e.cleanup(executionID)
		if cerr := e.svc.Nodes.CompleteNode(ctx, node, outcome.output, outcome.tokensIn, outcome.tokensOut); cerr != nil {
			e.logger.Warn("Failed to finalize node after cancellation", "node_id", step.ID, "error", cerr)
		}
		return &StepResult{NodeID: step.ID, Done: true}, nil
	}

	if err := e.svc.Nodes.CompleteNode(ctx, node, outcome.output, outcome.tokensIn, outcome.tokensOut); err != nil {
		return nil, err
	}

	if outcome.complete {
		return e.completeExecution(ctx, exec, outcome.output)
	}

	exec.CurrentNodeID = outcome.nextNodeID
	if outcome.bumpIteration {
		exec.IterationCount++
	}
	if err := e.svc.Executions.Save(ctx, exec); err != nil {
		return nil, err
	}

	if outcome.pause {
		status := outcome.pauseStatus
		if status == "" {
			status = models.ExecutionStatusAwaitingInput
		}
		if _, err := e.svc.Executions.UpdateStatus(ctx, executionID, status, ""); err != nil {
			return nil, err
		}
		return &StepResult{NodeID: step.ID, Paused: true}, nil
	}

	return &StepResult{NodeID: step.ID}, nil
}

// selectStep honors explicit routing through currentNodeId, then falls back
// to the readiness rule over static and dynamic steps in order.
func (e *Executor) selectStep(wf *models.Workflow, exec *models.Execution, completed map[string]bool) *models.WorkflowStep {
	if exec.CurrentNodeID != "" && !completed[exec.CurrentNodeID] {
		if step := e.stepByID(wf, exec.ID, exec.CurrentNodeID); step != nil {
			return step
		}
		e.logger.Warn("currentNodeId points at an unknown step; falling back to readiness",
			"execution_id", exec.ID, "node_id", exec.CurrentNodeID)
	}
	for i := range wf.Steps {
		if e.ready(&wf.Steps[i], completed) {
			return &wf.Steps[i]
		}
	}
	for _, step := range e.dynamicSteps(exec.ID) {
		if e.ready(step, completed) {
			return step
		}
	}
	return nil
}

// ready applies the readiness rule: not yet completed this iteration, and
// no dependency missing from the completed set. Merge nodes with wait_any
// need only one completed dependency.
func (e *Executor) ready(step *models.WorkflowStep, completed map[string]bool) bool {
	if completed[step.ID] {
		return false
	}
	if len(step.Depends) == 0 {
		return true
	}
	if step.Type == models.NodeTypeMerge && step.MergeStrategy == models.MergeWaitAny {
		for _, dep := range step.Depends {
			if completed[dep] {
				return true
			}
		}
		return false
	}
	for _, dep := range step.Depends {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// FindAllReadyNodes returns every node ready in the current iteration, in
// step order. Used for parallel branch fan-out after a split node.
func (e *Executor) FindAllReadyNodes(ctx context.Context, executionID string) ([]string, error) {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	wf, err := e.svc.Workflows.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	completed, err := e.svc.Nodes.CompletedNodeIDs(ctx, executionID, exec.IterationCount)
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := range wf.Steps {
		if e.ready(&wf.Steps[i], completed) {
			ids = append(ids, wf.Steps[i].ID)
		}
	}
	for _, step := range e.dynamicSteps(executionID) {
		if e.ready(step, completed) {
			ids = append(ids, step.ID)
		}
	}
	return ids, nil
}

// ExecuteParallel runs the given ready nodes concurrently. Routing fields
// (currentNodeId, iteration) are left untouched; parallel branches are
// plain data-flow nodes whose outputs a downstream merge collects.
func (e *Executor) ExecuteParallel(ctx context.Context, executionID string, nodeIDs []string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusRunning {
		return services.NewValidationError("status", fmt.Sprintf("execution is %s, not running", exec.Status))
	}
	wf, err := e.svc.Workflows.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		step := e.stepByID(wf, executionID, nodeID)
		if step == nil {
			errs[i] = services.NewValidationError("node_id", fmt.Sprintf("unknown step %s", nodeID))
			continue
		}
		wg.Add(1)
		go func(i int, step *models.WorkflowStep) {
			defer wg.Done()
			errs[i] = e.runBranchNode(ctx, exec, wf, step)
		}(i, step)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runBranchNode executes one node start-to-complete without touching the
// execution's routing state.
func (e *Executor) runBranchNode(ctx context.Context, exec *models.Execution, wf *models.Workflow, step *models.WorkflowStep) error {
	input, err := e.nodeInput(ctx, exec, step)
	if err != nil {
		return err
	}
	node, err := e.svc.Nodes.StartNode(ctx, exec.ID, step.ID, step.Type, exec.IterationCount, input)
	if err != nil {
		return err
	}
	outcome, err := e.dispatch(ctx, exec, wf, step, node)
	if err != nil {
		if ferr := e.svc.Nodes.FailNode(ctx, node, err.Error()); ferr != nil {
			e.logger.Warn("Failed to record branch node failure", "node_id", step.ID, "error", ferr)
		}
		return err
	}
	return e.svc.Nodes.CompleteNode(ctx, node, outcome.output, outcome.tokensIn, outcome.tokensOut)
}

// ResumeAfterInput feeds a user reply into an awaiting_input execution:
// record the input, start a new iteration from the first step, resume.
func (e *Executor) ResumeAfterInput(ctx context.Context, executionID, userInput string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusAwaitingInput {
		return services.NewValidationError("status", fmt.Sprintf("execution is %s, not awaiting_input", exec.Status))
	}
	wf, err := e.svc.Workflows.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}

	exec.IterationCount++
	exec.CurrentNodeID = wf.FirstStepID()
	if err := e.svc.Executions.Save(ctx, exec); err != nil {
		return err
	}

	if userInput != "" {
		if _, err := e.svc.Messages.AddMessage(ctx, executionID, models.MessageRoleUser, "", userInput); err != nil {
			return err
		}
		if _, err := e.svc.Contexts.AddItem(ctx, executionID, models.ContextItemUserInput, "", userInput, exec.IterationCount); err != nil {
			return err
		}
	}

	_, err = e.svc.Executions.UpdateStatus(ctx, executionID, models.ExecutionStatusRunning, "")
	return err
}

// ResumeAfterCheckpoint resolves a pending checkpoint decision and resumes
// (or cancels) the execution.
func (e *Executor) ResumeAfterCheckpoint(ctx context.Context, executionID, checkpointID, decision, feedback string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusAwaitingInput && exec.Status != models.ExecutionStatusPaused {
		return services.NewValidationError("status", fmt.Sprintf("execution is %s, not paused", exec.Status))
	}

	pending, err := e.svc.Checkpoints.GetPendingCheckpoint(ctx, executionID)
	if err != nil {
		return err
	}
	if pending.ID != checkpointID {
		return services.NewValidationError("checkpoint_id", "checkpoint does not belong to this execution")
	}

	cp, err := e.svc.Checkpoints.Decide(ctx, checkpointID, decision, feedback)
	if err != nil {
		return err
	}

	if feedback != "" {
		if _, err := e.svc.Contexts.AddFeedbackItem(ctx, executionID, "", feedback, "checkpoint", "", exec.IterationCount); err != nil {
			e.logger.Warn("Failed to record checkpoint feedback", "execution_id", executionID, "error", err)
		}
	}

	if decision == "reject" || decision == "cancel" {
		return e.CancelExecution(ctx, executionID)
	}

	// The checkpoint node completed when it paused; clearing currentNodeId
	// lets the readiness rule pick its successor.
	exec.CurrentNodeID = ""
	if err := e.svc.Executions.Save(ctx, exec); err != nil {
		return err
	}
	e.logger.Info("Checkpoint decided", "execution_id", executionID, "checkpoint_id", cp.ID, "decision", decision)
	_, err = e.svc.Executions.UpdateStatus(ctx, executionID, models.ExecutionStatusRunning, "")
	return err
}

// Resume restarts a paused execution (e.g. after a review panel
// escalation was looked at).
func (e *Executor) Resume(ctx context.Context, executionID string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusPaused {
		return services.NewValidationError("status", fmt.Sprintf("execution is %s, not paused", exec.Status))
	}
	_, err = e.svc.Executions.UpdateStatus(ctx, executionID, models.ExecutionStatusRunning, "")
	return err
}

// CancelExecution moves an execution to cancelled and tears down its
// runtime state. In-flight node handlers observe the status on return.
func (e *Executor) CancelExecution(ctx context.Context, executionID string) error {
	exec, err := e.svc.Executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return services.NewValidationError("status", fmt.Sprintf("execution already %s", exec.Status))
	}

	if _, err := e.svc.Executions.UpdateStatus(ctx, executionID, models.ExecutionStatusCancelled, ""); err != nil {
		return err
	}
	e.cancelExecutionSessions(executionID)
	e.cleanup(executionID)
	return nil
}

// cancelExecutionSessions aborts any streaming loop belonging to the
// execution's agent sessions.
func (e *Executor) cancelExecutionSessions(executionID string) {
	if e.sessions == nil {
		return
	}
	for _, sess := range e.sessions.List() {
		if sess.ChatID == executionID {
			if err := e.sessions.CancelMessage(sess.ID); err != nil {
				e.logger.Warn("Failed to cancel session", "session_id", sess.ID, "error", err)
			}
		}
	}
}

func (e *Executor) completeExecution(ctx context.Context, exec *models.Execution, finalOutput string) (*StepResult, error) {
	if finalOutput != "" && finalOutput != exec.FinalOutput {
		exec.FinalOutput = finalOutput
		if err := e.svc.Executions.Save(ctx, exec); err != nil {
			return nil, err
		}
	}
	if _, err := e.svc.Executions.UpdateStatus(ctx, exec.ID, models.ExecutionStatusCompleted, ""); err != nil {
		return nil, err
	}
	e.cleanup(exec.ID)
	e.logger.Info("Execution completed", "execution_id", exec.ID, "iterations", exec.IterationCount)
	return &StepResult{Done: true}, nil
}

func (e *Executor) failExecution(ctx context.Context, exec *models.Execution, node *models.NodeExecution, errMsg string) (*StepResult, error) {
	nodeID := ""
	if node != nil {
		nodeID = node.NodeID
	}
	if _, err := e.svc.Executions.UpdateStatus(ctx, exec.ID, models.ExecutionStatusFailed, errMsg); err != nil {
		return nil, err
	}
	e.cleanup(exec.ID)
	e.logger.Error("Execution failed", "execution_id", exec.ID, "node_id", nodeID, "error", errMsg)
	return &StepResult{NodeID: nodeID, Done: true}, fmt.Errorf("execution %s failed: %s", exec.ID, errMsg)
}

// cleanup drops per-execution runtime state: dynamic nodes, handoff depth,
// loop counters, live agent-run tracking.
func (e *Executor) cleanup(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dynamicNodes, executionID)
	delete(e.handoffDepth, executionID)
	delete(e.pendingHandoff, executionID)
	for sessID, run := range e.agentRuns {
		if run.executionID == executionID {
			delete(e.agentRuns, sessID)
		}
	}
	prefix := executionID + "/"
	for key := range e.loopCounters {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.loopCounters, key)
		}
	}
}

// stepByID resolves a static or dynamic step.
func (e *Executor) stepByID(wf *models.Workflow, executionID, nodeID string) *models.WorkflowStep {
	if step := wf.Step(nodeID); step != nil {
		return step
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if nodes, ok := e.dynamicNodes[executionID]; ok {
		return nodes[nodeID]
	}
	return nil
}

// dynamicSteps returns the execution's injected handoff nodes in a stable
// order.
func (e *Executor) dynamicSteps(executionID string) []*models.WorkflowStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes := e.dynamicNodes[executionID]
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.WorkflowStep, 0, len(ids))
	for _, id := range ids {
		out = append(out, nodes[id])
	}
	return out
}

// nodeInput derives a node's input: root steps see the initial input,
// single-dependency steps see that dependency's output, and multi-dependency
// steps see a JSON object keyed by dependency ID.
func (e *Executor) nodeInput(ctx context.Context, exec *models.Execution, step *models.WorkflowStep) (string, error) {
	if len(step.Depends) == 0 {
		return exec.InitialInput, nil
	}
	if len(step.Depends) == 1 {
		out, err := e.svc.Nodes.NodeOutput(ctx, exec.ID, step.Depends[0], exec.IterationCount)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return "", err
		}
		return out, nil
	}

	merged := make(map[string]any, len(step.Depends))
	for _, dep := range step.Depends {
		out, err := e.svc.Nodes.NodeOutput(ctx, exec.ID, dep, exec.IterationCount)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return "", err
		}
		merged[dep] = out
	}
	buf, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("failed to merge dependency outputs: %w", err)
	}
	return string(buf), nil
}

// dispatch routes one node run to its type handler.
func (e *Executor) dispatch(ctx context.Context, exec *models.Execution, wf *models.Workflow, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	switch step.Type {
	case models.NodeTypeTrigger:
		return e.handleTrigger(node)
	case models.NodeTypeAgent:
		return e.handleAgent(ctx, exec, wf, step, node)
	case models.NodeTypeRouter:
		return e.handleRouter(node)
	case models.NodeTypeCheckpoint, models.NodeTypeHuman:
		return e.handleCheckpoint(ctx, exec, step, node)
	case models.NodeTypeDecision, models.NodeTypeVote:
		return e.handleDecision(ctx, exec, wf, step, node)
	case models.NodeTypeAwaitInput:
		return e.handleAwaitInput(ctx, exec, step, node)
	case models.NodeTypeReviewPanel:
		return e.handleReviewPanel(ctx, exec, step, node)
	case models.NodeTypeSplit:
		return e.handleSplit(ctx, exec, wf, step, node)
	case models.NodeTypeMerge:
		return e.handleMerge(ctx, exec, step, node)
	case models.NodeTypeLoop:
		return e.handleLoop(exec, step, node)
	case models.NodeTypeCondition:
		return e.handleCondition(wf, step, node)
	case models.NodeTypeTransform:
		return e.handleTransform(node)
	case models.NodeTypeOutput:
		return e.handleOutput(ctx, exec, step, node)
	case models.NodeTypePermissionGate:
		return e.handlePermissionGate(node)
	default:
		return nil, fmt.Errorf("unknown node type %q", step.Type)
	}
}
