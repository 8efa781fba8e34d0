package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/tools"
	testdb "github.com/forge-ide/loom/test/database"
)

type fakeECP struct{}

func (fakeECP) Request(_ context.Context, method string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"content": "contents via " + method}, nil
}

type harness struct {
	exec *Executor
	svc  Services
	mock *providers.Mock
}

func newHarness(t *testing.T, turns ...providers.MockTurn) *harness {
	t.Helper()
	client := testdb.NewTestClient(t)
	publisher := events.NewPublisher(client, events.NewBus())

	svc := Services{
		Executions:  services.NewExecutionService(client, publisher),
		Nodes:       services.NewNodeExecutionService(client, publisher),
		Messages:    services.NewMessageService(client, publisher),
		Contexts:    services.NewContextService(client),
		Checkpoints: services.NewCheckpointService(client),
		Feedback:    services.NewFeedbackService(client),
		Workflows:   services.NewWorkflowService(client),
		Agents:      services.NewAgentService(client),
		Panels:      services.NewPanelService(client, publisher),
	}
	require.NoError(t, svc.Agents.EnsureSystemAgents(context.Background()))

	mock := providers.NewMock(turns...)
	mock.ProviderID = providers.ProviderAnthropic
	registry := providers.NewRegistry(providers.ProviderAnthropic)
	registry.Register(mock)

	toolExec, err := tools.NewExecutor(fakeECP{}, tools.NewAnthropicTranslator(), nil, nil)
	require.NoError(t, err)
	perms := permissions.NewService(nil, nil, permissions.Config{RequestTimeout: 2 * time.Second})
	sessions := session.NewManager(registry,
		map[string]*tools.Executor{providers.ProviderAnthropic: toolExec},
		perms, svc.Agents, publisher, session.Config{})

	exec := NewExecutor(svc, sessions, publisher)
	exec.RegisterHandoffTool(toolExec)
	return &harness{exec: exec, svc: svc, mock: mock}
}

func (h *harness) startExecution(t *testing.T, steps []models.WorkflowStep, input string) *models.Execution {
	t.Helper()
	ctx := context.Background()
	wf, err := h.svc.Workflows.CreateWorkflow(ctx, models.CreateWorkflowRequest{Name: "wf", Steps: steps})
	require.NoError(t, err)
	exec, err := h.svc.Executions.CreateExecution(ctx, models.CreateExecutionRequest{WorkflowID: wf.ID, InitialInput: input})
	require.NoError(t, err)
	require.NoError(t, h.exec.Start(ctx, exec.ID))
	return exec
}

// drive steps the execution until it finishes or pauses.
func (h *harness) drive(t *testing.T, executionID string) *StepResult {
	t.Helper()
	for i := 0; i < 50; i++ {
		res, err := h.exec.ExecuteStep(context.Background(), executionID)
		require.NoError(t, err)
		if res.Done || res.Paused {
			return res
		}
	}
	t.Fatal("execution did not settle within 50 steps")
	return nil
}

func (h *harness) getExecution(t *testing.T, id string) *models.Execution {
	t.Helper()
	exec, err := h.svc.Executions.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func TestExecuteStep_LinearWorkflow(t *testing.T) {
	h := newHarness(t, providers.MockTurn{Text: "The answer"})
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeTrigger},
		{ID: "work", Type: models.NodeTypeAgent, Agent: "coder", Prompt: "Do the thing", Depends: []string{"start"}},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"work"}},
	}
	exec := h.startExecution(t, steps, "build me a widget")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)

	final := h.getExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 0, final.IterationCount)
	assert.Equal(t, "The answer", final.FinalOutput)

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		assert.Equal(t, models.NodeStatusCompleted, n.Status)
		assert.Equal(t, 0, n.IterationNumber)
	}
	assert.Equal(t, "build me a widget", nodes[0].Output)

	items, err := h.svc.Contexts.ListActive(context.Background(), exec.ID)
	require.NoError(t, err)
	var agentOutputs int
	for _, item := range items {
		if item.ItemType == models.ContextItemAgentOutput {
			agentOutputs++
			assert.Equal(t, "The answer", item.Content)
			assert.Equal(t, "coder", item.AgentID)
		}
	}
	assert.Equal(t, 1, agentOutputs)

	msgs, err := h.svc.Messages.ListMessages(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.True(t, last.IsComplete)
	assert.True(t, last.IsFinalIteration)
	assert.Equal(t, "The answer", last.Content)
}

func TestExecuteStep_RejectsNonRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf, err := h.svc.Workflows.CreateWorkflow(ctx, models.CreateWorkflowRequest{
		Name:  "wf",
		Steps: []models.WorkflowStep{{ID: "a", Type: models.NodeTypeTrigger}},
	})
	require.NoError(t, err)
	exec, err := h.svc.Executions.CreateExecution(ctx, models.CreateExecutionRequest{WorkflowID: wf.ID})
	require.NoError(t, err)

	// Still pending: Start was never called.
	_, err = h.exec.ExecuteStep(ctx, exec.ID)
	assert.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestExecuteStep_ToolUseIterationMessaging(t *testing.T) {
	h := newHarness(t,
		providers.MockTurn{
			Text: "Let me read that file",
			ToolUses: []providers.ContentBlock{{
				Type:      providers.BlockToolUse,
				ToolUseID: "t1",
				ToolName:  "Read",
				ToolInput: map[string]any{"file_path": "/tmp/f.go"},
			}},
			Stop: providers.StopToolUse,
		},
		providers.MockTurn{Text: "Done reading"},
	)
	steps := []models.WorkflowStep{
		{ID: "work", Type: models.NodeTypeAgent, Agent: "coder", Prompt: "Read it"},
	}
	exec := h.startExecution(t, steps, "")
	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)

	msgs, err := h.svc.Messages.ListMessages(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.True(t, msgs[0].IsComplete)
	assert.True(t, msgs[0].IsToolUseIteration)
	assert.False(t, msgs[0].IsFinalIteration)
	assert.Equal(t, "Let me read that file", msgs[0].Content)

	assert.True(t, msgs[1].IsComplete)
	assert.False(t, msgs[1].IsToolUseIteration)
	assert.True(t, msgs[1].IsFinalIteration)
	assert.Equal(t, "Done reading", msgs[1].Content)

	// Only the final iteration lands in prompt-building context.
	items, err := h.svc.Contexts.ListActive(context.Background(), exec.ID)
	require.NoError(t, err)
	for _, item := range items {
		if item.ItemType == models.ContextItemAgentOutput {
			assert.Equal(t, "Done reading", item.Content)
		}
	}
}

func TestExecuteStep_AwaitInputAndResume(t *testing.T) {
	h := newHarness(t,
		providers.MockTurn{Text: "First reply"},
		providers.MockTurn{Text: "Second reply"},
	)
	steps := []models.WorkflowStep{
		{ID: "chat", Type: models.NodeTypeAgent, Agent: "assistant"},
		{ID: "wait", Type: models.NodeTypeAwaitInput, Depends: []string{"chat"}},
	}
	exec := h.startExecution(t, steps, "hello")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Paused)
	assert.Equal(t, models.ExecutionStatusAwaitingInput, h.getExecution(t, exec.ID).Status)
	assert.Equal(t, 0, h.getExecution(t, exec.ID).IterationCount)

	require.NoError(t, h.exec.ResumeAfterInput(context.Background(), exec.ID, "tell me more"))
	mid := h.getExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusRunning, mid.Status)
	assert.Equal(t, 1, mid.IterationCount)
	assert.Equal(t, "chat", mid.CurrentNodeID)

	res = h.drive(t, exec.ID)
	assert.True(t, res.Paused)
	assert.Equal(t, 1, h.getExecution(t, exec.ID).IterationCount)

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	var secondPass []*models.NodeExecution
	for _, n := range nodes {
		if n.IterationNumber == 1 {
			secondPass = append(secondPass, n)
		}
	}
	require.Len(t, secondPass, 2) // chat + wait again
	assert.Equal(t, "chat", secondPass[0].NodeID)
	assert.Equal(t, "Second reply", secondPass[0].Output)
}

func TestExecuteStep_Handoff(t *testing.T) {
	h := newHarness(t,
		providers.MockTurn{
			Text: "This needs the coder",
			ToolUses: []providers.ContentBlock{{
				Type:      providers.BlockToolUse,
				ToolUseID: "d1",
				ToolName:  DelegateToAgentTool,
				ToolInput: map[string]any{"agentId": "coder", "message": "fix the bug", "context": "stack trace attached"},
			}},
			Stop: providers.StopToolUse,
		},
		providers.MockTurn{Text: "Delegated."},
		providers.MockTurn{Text: "Bug fixed."},
	)
	steps := []models.WorkflowStep{
		{ID: "triage", Type: models.NodeTypeAgent, Agent: "assistant"},
	}
	exec := h.startExecution(t, steps, "something is broken")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)
	assert.Equal(t, 3, h.mock.CallCount())

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "triage", nodes[0].NodeID)
	assert.True(t, strings.HasPrefix(nodes[1].NodeID, "handoff-"+exec.ID))
	assert.True(t, strings.HasSuffix(nodes[1].NodeID, "-coder"))
	assert.Equal(t, "Bug fixed.", nodes[1].Output)

	// Handoff context item recorded for the target agent.
	items, err := h.svc.Contexts.ListActive(context.Background(), exec.ID)
	require.NoError(t, err)
	var sawHandoffContext bool
	for _, item := range items {
		if item.ItemType == models.ContextItemSystem && strings.Contains(item.Content, "stack trace attached") {
			sawHandoffContext = true
		}
	}
	assert.True(t, sawHandoffContext)

	// Runtime state is cleaned up on completion.
	h.exec.mu.Lock()
	assert.Empty(t, h.exec.dynamicNodes[exec.ID])
	assert.Zero(t, h.exec.handoffDepth[exec.ID])
	h.exec.mu.Unlock()
}

func TestExecuteStep_CheckpointPauseAndResume(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "gate", Type: models.NodeTypeCheckpoint, CheckpointPrompt: "Ship it?"},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"gate"}},
	}
	exec := h.startExecution(t, steps, "")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Paused)
	assert.Equal(t, models.ExecutionStatusAwaitingInput, h.getExecution(t, exec.ID).Status)

	cp, err := h.svc.Checkpoints.GetPendingCheckpoint(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ship it?", cp.PromptMessage)
	assert.Equal(t, []string{"approve", "reject"}, cp.Options)

	require.NoError(t, h.exec.ResumeAfterCheckpoint(context.Background(), exec.ID, cp.ID, "approve", "lgtm"))
	assert.Equal(t, models.ExecutionStatusRunning, h.getExecution(t, exec.ID).Status)

	res = h.drive(t, exec.ID)
	assert.True(t, res.Done)
	assert.Equal(t, models.ExecutionStatusCompleted, h.getExecution(t, exec.ID).Status)

	// Approval feedback is preserved for later prompts.
	items, err := h.svc.Contexts.ListActive(context.Background(), exec.ID)
	require.NoError(t, err)
	var sawFeedback bool
	for _, item := range items {
		if item.ItemType == models.ContextItemFeedback && item.Content == "lgtm" {
			sawFeedback = true
		}
	}
	assert.True(t, sawFeedback)
}

func TestResumeAfterCheckpoint_RejectsForeignCheckpoint(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "gate", Type: models.NodeTypeCheckpoint, CheckpointPrompt: "Proceed?"},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"gate"}},
	}
	execA := h.startExecution(t, steps, "")
	execB := h.startExecution(t, steps, "")
	h.drive(t, execA.ID)
	h.drive(t, execB.ID)

	cpB, err := h.svc.Checkpoints.GetPendingCheckpoint(context.Background(), execB.ID)
	require.NoError(t, err)

	// A checkpoint id from another execution must not decide this one.
	err = h.exec.ResumeAfterCheckpoint(context.Background(), execA.ID, cpB.ID, "approve", "")
	assert.True(t, services.IsValidationError(err))

	assert.Equal(t, models.ExecutionStatusAwaitingInput, h.getExecution(t, execA.ID).Status)
	assert.Equal(t, models.ExecutionStatusAwaitingInput, h.getExecution(t, execB.ID).Status)

	cpB, err = h.svc.Checkpoints.GetPendingCheckpoint(context.Background(), execB.ID)
	require.NoError(t, err)
	assert.True(t, cpB.Pending())
}

func TestExecuteStep_CheckpointReject(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "gate", Type: models.NodeTypeHuman},
	}
	exec := h.startExecution(t, steps, "")
	h.drive(t, exec.ID)

	cp, err := h.svc.Checkpoints.GetPendingCheckpoint(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NoError(t, h.exec.ResumeAfterCheckpoint(context.Background(), exec.ID, cp.ID, "reject", ""))
	assert.Equal(t, models.ExecutionStatusCancelled, h.getExecution(t, exec.ID).Status)
}

func TestExecuteStep_ConditionBranches(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeTrigger},
		{ID: "check", Type: models.NodeTypeCondition, Depends: []string{"start"},
			Branches: &models.BranchTargets{True: "yes", False: "no"}},
		{ID: "yes", Type: models.NodeTypeOutput, Depends: []string{"check"}},
		{ID: "no", Type: models.NodeTypeOutput, Depends: []string{"check"}},
	}
	exec := h.startExecution(t, steps, "non-empty input")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)
	assert.Equal(t, `{"result":true}`, h.getExecution(t, exec.ID).FinalOutput)

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	ran := make(map[string]bool)
	for _, n := range nodes {
		ran[n.NodeID] = true
	}
	assert.True(t, ran["yes"])
	assert.False(t, ran["no"])
}

func TestExecuteStep_SplitAndMergeWaitAll(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeSplit},
		{ID: "b1", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "b2", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "join", Type: models.NodeTypeMerge, Depends: []string{"b1", "b2"}},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"join"}},
	}
	exec := h.startExecution(t, steps, "payload")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)

	final := h.getExecution(t, exec.ID)
	assert.Contains(t, final.FinalOutput, `"b1":"payload"`)
	assert.Contains(t, final.FinalOutput, `"b2":"payload"`)
}

func TestExecuteStep_MergeWaitAnyReadyAfterOneBranch(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeSplit},
		{ID: "b1", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "b2", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "join", Type: models.NodeTypeMerge, Depends: []string{"b1", "b2"},
			MergeStrategy: models.MergeWaitAny},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"join"}},
	}
	exec := h.startExecution(t, steps, "payload")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)
	assert.Equal(t, "payload", h.getExecution(t, exec.ID).FinalOutput)
}

func TestExecuteStep_DecisionApproves(t *testing.T) {
	h := newHarness(t, providers.MockTurn{Text: "VOTE: approve\nAll good."})
	steps := []models.WorkflowStep{
		{ID: "reviewer", Type: models.NodeTypeAgent, Agent: "code-reviewer"},
		{ID: "tally", Type: models.NodeTypeDecision, Depends: []string{"reviewer"}},
	}
	exec := h.startExecution(t, steps, "please review")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)
	assert.Equal(t, models.ExecutionStatusCompleted, h.getExecution(t, exec.ID).Status)

	msgs, err := h.svc.Messages.ListMessages(context.Background(), exec.ID)
	require.NoError(t, err)
	var sawTally bool
	for _, m := range msgs {
		if m.Role == models.MessageRoleSystem && strings.Contains(m.Content, "Vote tally") {
			sawTally = true
			assert.Contains(t, m.Content, "1 approve")
		}
	}
	assert.True(t, sawTally)
}

func TestExecuteStep_DecisionCriticalLoopsBack(t *testing.T) {
	h := newHarness(t,
		providers.MockTurn{Text: "draft one"},            // worker, iteration 0
		providers.MockTurn{Text: "VOTE: critical\nBad."}, // reviewer 1, iteration 0
		providers.MockTurn{Text: "VOTE: approve\nOK."},   // reviewer 2, iteration 0
		providers.MockTurn{Text: "draft two"},            // worker, iteration 1
		providers.MockTurn{Text: "VOTE: approve\nOK."},   // reviewer 1, iteration 1
		providers.MockTurn{Text: "VOTE: approve\nOK."},   // reviewer 2, iteration 1
	)
	steps := []models.WorkflowStep{
		{ID: "worker", Type: models.NodeTypeAgent, Agent: "coder"},
		{ID: "rev1", Type: models.NodeTypeAgent, Agent: "code-reviewer", Depends: []string{"worker"}},
		{ID: "rev2", Type: models.NodeTypeAgent, Agent: "architect", Depends: []string{"worker"}},
		{ID: "tally", Type: models.NodeTypeDecision, Depends: []string{"rev1", "rev2"}},
	}
	exec := h.startExecution(t, steps, "write it")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)

	final := h.getExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 1, final.IterationCount)

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	var workerRuns int
	for _, n := range nodes {
		if n.NodeID == "worker" {
			workerRuns++
		}
	}
	assert.Equal(t, 2, workerRuns)
}

func TestExecuteStep_ReviewPanelApproved(t *testing.T) {
	h := newHarness(t,
		providers.MockTurn{Text: "the patch"},                      // worker
		providers.MockTurn{Text: "VOTE: approve\nFEEDBACK: fine."}, // panel reviewer
	)
	steps := []models.WorkflowStep{
		{ID: "worker", Type: models.NodeTypeAgent, Agent: "coder"},
		{ID: "panel", Type: models.NodeTypeReviewPanel, Depends: []string{"worker"},
			ReviewQuestion: "Is this patch safe?",
			ReviewPanel: &models.ReviewPanelConfig{
				Reviewers: []models.ReviewerConfig{{AgentID: "code-reviewer"}},
				Voting:    models.VotingConfig{Strategy: models.StrategyWeightedThreshold},
				Outcomes: map[string]models.OutcomeRoute{
					"approved": {Action: models.ActionContinue},
				},
			}},
		{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"panel"}},
	}
	exec := h.startExecution(t, steps, "review flow")

	res := h.drive(t, exec.ID)
	assert.True(t, res.Done)

	final := h.getExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Contains(t, final.FinalOutput, `"outcome":"approved"`)
}

func TestExecuteStep_LoopTimes(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "repeat", Type: models.NodeTypeLoop, LoopType: models.LoopTimes, LoopTimes: 3},
	}
	exec := h.startExecution(t, steps, "")

	// One pass per workflow iteration; each run advances the counter.
	res, err := h.exec.ExecuteStep(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "repeat", res.NodeID)

	nodes, err := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Contains(t, nodes[0].Output, `"continue":true`)
	assert.Contains(t, nodes[0].Output, `"currentIndex":0`)
}

func TestExecuteStep_MaxIterationsFailsExecution(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeTrigger},
	}
	exec := h.startExecution(t, steps, "")

	ctx := context.Background()
	loaded := h.getExecution(t, exec.ID)
	loaded.IterationCount = loaded.MaxIterations
	require.NoError(t, h.svc.Executions.Save(ctx, loaded))

	_, err := h.exec.ExecuteStep(ctx, exec.ID)
	assert.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, h.getExecution(t, exec.ID).Status)
	assert.Contains(t, h.getExecution(t, exec.ID).ErrorMessage, "iteration budget")
}

func TestExecuteStep_AgentFailureFailsExecution(t *testing.T) {
	h := newHarness(t, providers.MockTurn{Err: assert.AnError})
	steps := []models.WorkflowStep{
		{ID: "work", Type: models.NodeTypeAgent, Agent: "coder"},
	}
	exec := h.startExecution(t, steps, "")

	_, err := h.exec.ExecuteStep(context.Background(), exec.ID)
	assert.Error(t, err)

	final := h.getExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)

	nodes, lerr := h.svc.Nodes.ListNodes(context.Background(), exec.ID)
	require.NoError(t, lerr)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.NodeStatusFailed, nodes[0].Status)
}

func TestCancelExecution(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeTrigger},
	}
	exec := h.startExecution(t, steps, "")

	require.NoError(t, h.exec.CancelExecution(context.Background(), exec.ID))
	assert.Equal(t, models.ExecutionStatusCancelled, h.getExecution(t, exec.ID).Status)

	_, err := h.exec.ExecuteStep(context.Background(), exec.ID)
	assert.Error(t, err)

	// Cancelling twice is rejected.
	assert.Error(t, h.exec.CancelExecution(context.Background(), exec.ID))
}

func TestFindAllReadyNodes_AfterSplit(t *testing.T) {
	h := newHarness(t)
	steps := []models.WorkflowStep{
		{ID: "start", Type: models.NodeTypeSplit},
		{ID: "b1", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "b2", Type: models.NodeTypeTransform, Depends: []string{"start"}},
		{ID: "join", Type: models.NodeTypeMerge, Depends: []string{"b1", "b2"}},
	}
	exec := h.startExecution(t, steps, "x")

	ctx := context.Background()
	_, err := h.exec.ExecuteStep(ctx, exec.ID) // runs split
	require.NoError(t, err)

	ready, err := h.exec.FindAllReadyNodes(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ready)

	require.NoError(t, h.exec.ExecuteParallel(ctx, exec.ID, ready))

	completed, err := h.svc.Nodes.CompletedNodeIDs(ctx, exec.ID, 0)
	require.NoError(t, err)
	assert.True(t, completed["b1"])
	assert.True(t, completed["b2"])

	res := h.drive(t, exec.ID) // join, then completion
	assert.True(t, res.Done)
}
