package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/providers"
)

func TestWorkflowRunsToCompletion(t *testing.T) {
	h := NewHarness(t, providers.MockTurn{Text: "Implemented the parser."})

	wf := h.CreateWorkflow(t, "implement feature",
		models.WorkflowStep{ID: "start", Type: models.NodeTypeTrigger},
		models.WorkflowStep{ID: "work", Type: models.NodeTypeAgent, Agent: "coder",
			Prompt: "Implement the requested feature.", Depends: []string{"start"}},
		models.WorkflowStep{ID: "deliver", Type: models.NodeTypeOutput, Depends: []string{"work"}},
	)

	exec := h.Execute(t, wf.ID, "Add a config parser")
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)

	done := h.WaitForStatus(t, exec.ID, models.ExecutionStatusCompleted)
	assert.Contains(t, done.FinalOutput, "Implemented the parser.")
	assert.Equal(t, 1, h.Mock.CallCount())

	resp := h.Do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := Decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, resp)
	assert.NotEmpty(t, msgs.Messages)
}

func TestWorkflowAwaitInputResume(t *testing.T) {
	h := NewHarness(t, providers.MockTurn{Text: "Done, with the extra detail."})

	wf := h.CreateWorkflow(t, "gated by input",
		models.WorkflowStep{ID: "start", Type: models.NodeTypeTrigger},
		models.WorkflowStep{ID: "wait", Type: models.NodeTypeAwaitInput, Depends: []string{"start"}},
		models.WorkflowStep{ID: "work", Type: models.NodeTypeAgent, Agent: "coder",
			Prompt: "Use the user's input.", Depends: []string{"wait"}},
	)

	exec := h.Execute(t, wf.ID, "first half")
	h.WaitForStatus(t, exec.ID, models.ExecutionStatusAwaitingInput)

	resp := h.Do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/input",
		map[string]string{"input": "second half"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	done := h.WaitForStatus(t, exec.ID, models.ExecutionStatusCompleted)
	assert.Contains(t, done.FinalOutput, "Done")

	// The resumed agent prompt must carry the late input.
	reqs := h.Mock.Requests()
	require.NotEmpty(t, reqs)
	prompt := reqs[len(reqs)-1].Messages[len(reqs[len(reqs)-1].Messages)-1]
	assert.Contains(t, prompt.Text(), "second half")
}

func TestWorkflowCheckpointApproval(t *testing.T) {
	h := NewHarness(t, providers.MockTurn{Text: "Shipped."})

	wf := h.CreateWorkflow(t, "checkpointed ship",
		models.WorkflowStep{ID: "gate", Type: models.NodeTypeCheckpoint, CheckpointPrompt: "Ship it?"},
		models.WorkflowStep{ID: "ship", Type: models.NodeTypeAgent, Agent: "coder",
			Prompt: "Ship the release.", Depends: []string{"gate"}},
	)

	exec := h.Execute(t, wf.ID, "")
	h.WaitForStatus(t, exec.ID, models.ExecutionStatusAwaitingInput)

	resp := h.Do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/checkpoint", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cp := Decode[models.Checkpoint](t, resp)
	assert.Equal(t, "Ship it?", cp.PromptMessage)

	resp = h.Do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/checkpoint",
		map[string]string{"checkpoint_id": cp.ID, "decision": "approve"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	h.WaitForStatus(t, exec.ID, models.ExecutionStatusCompleted)
}

func TestWorkflowCheckpointRejectionCancels(t *testing.T) {
	h := NewHarness(t)

	wf := h.CreateWorkflow(t, "checkpointed abort",
		models.WorkflowStep{ID: "gate", Type: models.NodeTypeCheckpoint, CheckpointPrompt: "Proceed?"},
		models.WorkflowStep{ID: "ship", Type: models.NodeTypeOutput, Depends: []string{"gate"}},
	)

	exec := h.Execute(t, wf.ID, "")
	h.WaitForStatus(t, exec.ID, models.ExecutionStatusAwaitingInput)

	resp := h.Do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/checkpoint", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cp := Decode[models.Checkpoint](t, resp)

	resp = h.Do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/checkpoint",
		map[string]string{"checkpoint_id": cp.ID, "decision": "reject", "feedback": "not yet"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	done := h.GetExecution(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, done.Status)
}

func TestExecutionEventsOverWebSocket(t *testing.T) {
	h := NewHarness(t, providers.MockTurn{Text: "All green."})

	wf := h.CreateWorkflow(t, "observed run",
		models.WorkflowStep{ID: "start", Type: models.NodeTypeTrigger},
		models.WorkflowStep{ID: "work", Type: models.NodeTypeAgent, Agent: "coder",
			Prompt: "Do the work.", Depends: []string{"start"}},
	)

	exec := h.Execute(t, wf.ID, "run it")
	ws := h.DialEvents(t, events.ExecutionChannel(exec.ID))

	ws.WaitFor(t, func(msg map[string]any) bool {
		return msg["type"] == events.EventTypeActivity && msg["activity"] == events.ActivityNodeStarted
	})
	ws.WaitFor(t, func(msg map[string]any) bool {
		return msg["type"] == events.EventTypeMessageCompleted
	})

	h.WaitForStatus(t, exec.ID, models.ExecutionStatusCompleted)
}

func TestEventCatchupReplay(t *testing.T) {
	h := NewHarness(t, providers.MockTurn{Text: "Finished."})

	wf := h.CreateWorkflow(t, "catchup run",
		models.WorkflowStep{ID: "start", Type: models.NodeTypeTrigger},
		models.WorkflowStep{ID: "work", Type: models.NodeTypeAgent, Agent: "coder",
			Prompt: "Work.", Depends: []string{"start"}},
	)
	exec := h.Execute(t, wf.ID, "go")
	h.WaitForStatus(t, exec.ID, models.ExecutionStatusCompleted)

	// Connect after the fact and replay the persisted history.
	ws := h.DialEvents(t, events.ExecutionChannel(exec.ID))
	require.NoError(t, ws.Send(t.Context(), map[string]any{
		"action":        "catchup",
		"channel":       events.ExecutionChannel(exec.ID),
		"last_event_id": 0,
	}))
	ws.WaitFor(t, func(msg map[string]any) bool {
		return msg["type"] == events.EventTypeActivity && msg["activity"] == events.ActivityNodeCompleted
	})
}
