package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/review"
)

// handleTrigger passes the input through.
func (e *Executor) handleTrigger(node *models.NodeExecution) (*stepOutcome, error) {
	return &stepOutcome{output: node.Input}, nil
}

// handleRouter is a structural no-op; routing falls to the readiness rule.
func (e *Executor) handleRouter(node *models.NodeExecution) (*stepOutcome, error) {
	return &stepOutcome{output: node.Input}, nil
}

// handleTransform passes the input through. Hook point for user-supplied
// transforms.
func (e *Executor) handleTransform(node *models.NodeExecution) (*stepOutcome, error) {
	return &stepOutcome{output: node.Input}, nil
}

// handlePermissionGate passes through; actual gating happens per tool call
// inside the session loop.
func (e *Executor) handlePermissionGate(node *models.NodeExecution) (*stepOutcome, error) {
	return &stepOutcome{output: node.Input}, nil
}

// handleCheckpoint records a pending human decision and pauses the
// execution until it is resolved.
func (e *Executor) handleCheckpoint(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	prompt := step.CheckpointPrompt
	if prompt == "" {
		prompt = "Approve to continue?"
	}
	options := step.CheckpointOptions
	if len(options) == 0 {
		options = []string{"approve", "reject"}
	}

	cp, err := e.svc.Checkpoints.CreateCheckpoint(ctx, exec.ID, node.ID, string(step.Type), prompt, options)
	if err != nil {
		return nil, err
	}

	e.publishAwaitingInput(ctx, exec.ID, step.ID, cp.ID, prompt, options)
	return &stepOutcome{
		output:     fmt.Sprintf("checkpoint %s pending", cp.ID),
		nextNodeID: step.ID,
		pause:      true,
	}, nil
}

// handleAwaitInput posts a prompt message and pauses for the next user
// turn. ResumeAfterInput starts a fresh iteration from the first step.
func (e *Executor) handleAwaitInput(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	prompt := step.Prompt
	if prompt == "" {
		prompt = "Waiting for your input."
	}
	if _, err := e.svc.Messages.AddMessage(ctx, exec.ID, models.MessageRoleSystem, "", prompt); err != nil {
		return nil, err
	}

	e.publishAwaitingInput(ctx, exec.ID, step.ID, "", prompt, nil)
	return &stepOutcome{output: node.Input, pause: true}, nil
}

// handleSplit announces the fan-out and passes the input to every branch.
func (e *Executor) handleSplit(ctx context.Context, exec *models.Execution, wf *models.Workflow, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	branches := dependentStepIDs(wf, step.ID)
	if e.publisher != nil {
		e.publisher.PublishSplitStarted(ctx, exec.ID, step.ID, branches)
	}
	return &stepOutcome{output: node.Input}, nil
}

// handleMerge collects completed dependency outputs. wait_all merges them
// into one object keyed by step ID; wait_any forwards the first completed
// output in dependency order.
func (e *Executor) handleMerge(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	strategy := step.MergeStrategy
	if strategy == "" {
		strategy = models.MergeWaitAll
	}

	var output string
	switch strategy {
	case models.MergeWaitAny:
		for _, dep := range step.Depends {
			out, err := e.svc.Nodes.NodeOutput(ctx, exec.ID, dep, exec.IterationCount)
			if err == nil {
				output = out
				break
			}
		}
	case models.MergeWaitAll:
		merged := make(map[string]any, len(step.Depends))
		for _, dep := range step.Depends {
			out, err := e.svc.Nodes.NodeOutput(ctx, exec.ID, dep, exec.IterationCount)
			if err != nil {
				return nil, fmt.Errorf("merge %s missing dependency output %s: %w", step.ID, dep, err)
			}
			merged[dep] = out
		}
		buf, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("failed to encode merge output: %w", err)
		}
		output = string(buf)
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}

	if e.publisher != nil {
		e.publisher.PublishMergeCompleted(ctx, exec.ID, step.ID, strategy)
	}
	return &stepOutcome{output: output}, nil
}

// handleCondition evaluates the branch predicate and routes to the
// matching successor. Explicit branches win; otherwise a dependent step
// whose ID contains "true"/"false" is picked.
func (e *Executor) handleCondition(wf *models.Workflow, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	result := strings.TrimSpace(node.Input) != ""

	next := ""
	if step.Branches != nil {
		if result {
			next = step.Branches.True
		} else {
			next = step.Branches.False
		}
	}
	if next == "" {
		want := "false"
		if result {
			want = "true"
		}
		for _, id := range dependentStepIDs(wf, step.ID) {
			if strings.Contains(strings.ToLower(id), want) {
				next = id
				break
			}
		}
	}

	return &stepOutcome{
		output:     fmt.Sprintf(`{"result":%t}`, result),
		nextNodeID: next,
	}, nil
}

// handleOutput records the input as the execution's final output and ends
// the workflow.
func (e *Executor) handleOutput(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	if _, err := e.svc.Contexts.AddItem(ctx, exec.ID, models.ContextItemSystem, "", node.Input, exec.IterationCount); err != nil {
		return nil, err
	}
	if e.publisher != nil {
		e.publisher.PublishOutput(ctx, exec.ID, step.ID, node.Input)
	}
	return &stepOutcome{output: node.Input, complete: true}, nil
}

// handleLoop advances the node's iteration counter. Emits
// {continue, currentIndex, currentItem} until the loop bound is reached,
// then {done}. Routing back into the loop body is the workflow's job
// (decision/condition nodes with explicit targets).
func (e *Executor) handleLoop(exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	key := exec.ID + "/" + step.ID
	e.mu.Lock()
	index := e.loopCounters[key]
	e.mu.Unlock()

	loopType := step.LoopType
	if loopType == "" {
		loopType = models.LoopTimes
	}

	var limit int
	var currentItem any
	switch loopType {
	case models.LoopForEach:
		items, err := loopItems(node.Input, step.LoopArrayField)
		if err != nil {
			return nil, err
		}
		limit = len(items)
		if index < limit {
			currentItem = items[index]
		}
	case models.LoopTimes:
		limit = step.LoopTimes
		if limit <= 0 {
			limit = 1
		}
	case models.LoopWhile:
		limit = step.LoopMaxIterations
		if limit <= 0 {
			limit = models.DefaultLoopMaxIterations
		}
		if !evalWhile(step.LoopCondition, node.Input) {
			limit = index // condition false: stop now
		}
	default:
		return nil, fmt.Errorf("unknown loop type %q", loopType)
	}

	if index >= limit {
		return &stepOutcome{output: `{"done":true}`}, nil
	}

	e.mu.Lock()
	e.loopCounters[key] = index + 1
	e.mu.Unlock()

	out := map[string]any{"continue": true, "currentIndex": index}
	if currentItem != nil {
		out["currentItem"] = currentItem
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode loop output: %w", err)
	}
	return &stepOutcome{output: string(buf)}, nil
}

// loopItems extracts the iteration array for a for_each loop from the node
// input: either a bare JSON array or an object field (default "items").
func loopItems(input, field string) ([]any, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
			return nil, fmt.Errorf("for_each input is not a JSON array: %w", err)
		}
		return arr, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("for_each input is not JSON: %w", err)
	}
	if field == "" {
		field = "items"
	}
	arr, _ := obj[field].([]any)
	return arr, nil
}

// evalWhile evaluates the while-loop predicate against the node input. A
// nil condition means truthy(input).
func evalWhile(cond *models.WhileCondition, input string) bool {
	if cond == nil {
		t := strings.TrimSpace(input)
		return t != "" && t != "false" && t != "null"
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(input), &obj); err != nil {
		return false
	}
	raw, ok := obj[cond.Field]
	value := ""
	if ok && raw != nil {
		value = fmt.Sprintf("%v", raw)
	}

	switch cond.Op {
	case "eq":
		return value == cond.Value
	case "neq":
		return value != cond.Value
	case "contains":
		return strings.Contains(value, cond.Value)
	case "truthy", "":
		return ok && value != "" && value != "false" && value != "0"
	default:
		return false
	}
}

// handleReviewPanel runs the panel and routes per the configured outcome
// action.
func (e *Executor) handleReviewPanel(ctx context.Context, exec *models.Execution, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	if step.ReviewPanel == nil {
		return nil, fmt.Errorf("review_panel node %s has no panel config", step.ID)
	}

	subject := node.Input
	if step.ReviewQuestion != "" {
		subject = step.ReviewQuestion + "\n\n" + subject
	}

	runner := review.NewRunner(e.svc.Panels, func(ctx context.Context, reviewer models.ReviewerConfig, subject string) (string, error) {
		return e.runReviewerAgent(ctx, exec, reviewer, subject)
	})
	result, err := runner.Run(ctx, exec.ID, node.ID, step.ReviewPanel, subject)
	if err != nil {
		return nil, err
	}

	output, _ := json.Marshal(map[string]any{
		"outcome": result.Outcome,
		"summary": result.Summary,
	})
	outcome := &stepOutcome{output: string(output)}

	switch result.Route.Action {
	case models.ActionLoop:
		outcome.nextNodeID = result.Route.Target
		outcome.bumpIteration = true
	case models.ActionContinue:
		outcome.nextNodeID = result.Route.Target
	case models.ActionPause:
		outcome.pause = true
		outcome.pauseStatus = models.ExecutionStatusPaused
	case models.ActionComplete:
		outcome.complete = true
	default:
		return nil, fmt.Errorf("review panel %s produced unknown action %q", step.ID, result.Route.Action)
	}
	return outcome, nil
}

// decisionVoteRe matches the simplified three-way vote emitted by reviewer
// agents feeding a decision node.
var decisionVoteRe = regexp.MustCompile(`(?im)^\s*\**\s*VOTE\s*\**\s*:\s*(critical|queue|approve)\b`)

// handleDecision tallies VOTE lines from this iteration's reviewer outputs
// and routes: all-critical escalates to a checkpoint, majority-critical
// loops back to the first root agent, any queue vote surfaces feedback,
// otherwise the workflow completes approved.
func (e *Executor) handleDecision(ctx context.Context, exec *models.Execution, wf *models.Workflow, step *models.WorkflowStep, node *models.NodeExecution) (*stepOutcome, error) {
	items, err := e.svc.Contexts.ListActive(ctx, exec.ID)
	if err != nil {
		return nil, err
	}

	var critical, queue, approve int
	var queueItems []*models.ContextItem
	for _, item := range items {
		if item.ItemType != models.ContextItemAgentOutput || item.IterationNumber != exec.IterationCount {
			continue
		}
		m := decisionVoteRe.FindStringSubmatch(item.Content)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "critical":
			critical++
		case "queue":
			queue++
			queueItems = append(queueItems, item)
		case "approve":
			approve++
		}
	}
	total := critical + queue + approve

	summary := fmt.Sprintf("Vote tally: %d critical, %d queue, %d approve.", critical, queue, approve)
	var outcome *stepOutcome
	switch {
	case total == 0:
		// No votes to count; treat as approval so empty panels don't wedge.
		outcome = &stepOutcome{complete: true}
		summary += " No votes found; proceeding."
	case critical == total:
		summary += " Escalating to human review."
		next := ""
		for i := range wf.Steps {
			if wf.Steps[i].Type == models.NodeTypeCheckpoint || wf.Steps[i].Type == models.NodeTypeHuman {
				next = wf.Steps[i].ID
				break
			}
		}
		if next != "" {
			outcome = &stepOutcome{nextNodeID: next}
		} else {
			outcome = &stepOutcome{pause: true, pauseStatus: models.ExecutionStatusPaused}
		}
	case critical*2 >= total:
		summary += " Critical issues must be addressed."
		outcome = &stepOutcome{nextNodeID: firstRootAgent(wf), bumpIteration: true}
	case queue > 0:
		summary += " Feedback queued for later review."
		for _, item := range queueItems {
			if _, qerr := e.svc.Feedback.Queue(ctx, exec.ID, item.ID, 1, models.SurfaceIterationEnd); qerr != nil {
				e.logger.Warn("Failed to queue feedback", "execution_id", exec.ID, "error", qerr)
			}
		}
		outcome = &stepOutcome{nextNodeID: feedbackStepID(wf)}
	default:
		summary += " Approved."
		outcome = &stepOutcome{complete: true}
	}

	if _, err := e.svc.Messages.AddMessage(ctx, exec.ID, models.MessageRoleSystem, "", summary); err != nil {
		e.logger.Warn("Failed to post decision summary", "execution_id", exec.ID, "error", err)
	}
	outcome.output = summary
	return outcome, nil
}

// firstRootAgent returns the first agent step with no dependencies, then
// the first agent step, then the first step.
func firstRootAgent(wf *models.Workflow) string {
	for i := range wf.Steps {
		if wf.Steps[i].Type == models.NodeTypeAgent && len(wf.Steps[i].Depends) == 0 {
			return wf.Steps[i].ID
		}
	}
	for i := range wf.Steps {
		if wf.Steps[i].Type == models.NodeTypeAgent {
			return wf.Steps[i].ID
		}
	}
	return wf.FirstStepID()
}

// feedbackStepID returns the step whose ID names a feedback stage, or "".
func feedbackStepID(wf *models.Workflow) string {
	for i := range wf.Steps {
		if strings.Contains(strings.ToLower(wf.Steps[i].ID), "feedback") {
			return wf.Steps[i].ID
		}
	}
	return ""
}

// dependentStepIDs returns the IDs of steps that depend on the given step,
// in declaration order.
func dependentStepIDs(wf *models.Workflow, stepID string) []string {
	var out []string
	for i := range wf.Steps {
		for _, dep := range wf.Steps[i].Depends {
			if dep == stepID {
				out = append(out, wf.Steps[i].ID)
				break
			}
		}
	}
	return out
}

func (e *Executor) publishAwaitingInput(ctx context.Context, executionID, nodeID, checkpointID, prompt string, options []string) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishAwaitingInput(ctx, executionID, events.AwaitingInputPayload{
		NodeID:       nodeID,
		CheckpointID: checkpointID,
		Prompt:       prompt,
		Options:      options,
	})
}
