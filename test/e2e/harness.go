// Package e2e runs the whole stack in-process: SQLite storage, event bus,
// session manager with a scripted provider, worker pool, and the HTTP API
// behind an httptest server. Tests talk to loom the way the IDE shell
// does: REST calls plus the events WebSocket.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/api"
	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/queue"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/tools"
	"github.com/forge-ide/loom/pkg/workflow"
	testdb "github.com/forge-ide/loom/test/database"
)

// waitInterval is the poll cadence for Eventually-style assertions.
const waitInterval = 20 * time.Millisecond

// waitTimeout bounds one state transition. Generous because the queue
// poll interval and the scripted provider add latency.
const waitTimeout = 10 * time.Second

type editorStub struct{}

func (editorStub) Request(_ context.Context, method string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"content": "ok via " + method}, nil
}

// Harness is one running loom instance.
type Harness struct {
	Server *httptest.Server
	Svc    workflow.Services
	Mock   *providers.Mock
	Perms  *permissions.Service
	Pool   *queue.WorkerPool
}

// NewHarness boots the full stack with the given scripted provider turns.
func NewHarness(t *testing.T, turns ...providers.MockTurn) *Harness {
	t.Helper()

	client := testdb.NewTestClient(t)

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	publisher := events.NewPublisher(client, bus)
	connManager := events.NewConnectionManager(events.NewCatchupAdapter(client), 5*time.Second)
	bus.AttachSink(connManager.Broadcast)

	svc := workflow.Services{
		Executions:  services.NewExecutionService(client, publisher),
		Nodes:       services.NewNodeExecutionService(client, publisher),
		Messages:    services.NewMessageService(client, publisher),
		Contexts:    services.NewContextService(client),
		Checkpoints: services.NewCheckpointService(client),
		Feedback:    services.NewFeedbackService(client),
		Workflows:   services.NewWorkflowService(client),
		Agents:      services.NewAgentService(client),
		Personas:    services.NewPersonaService(client),
		Panels:      services.NewPanelService(client, publisher),
	}
	require.NoError(t, svc.Agents.EnsureSystemAgents(context.Background()))

	mock := providers.NewMock(turns...)
	mock.ProviderID = providers.ProviderAnthropic
	registry := providers.NewRegistry(providers.ProviderAnthropic)
	registry.Register(mock)

	toolExec, err := tools.NewExecutor(editorStub{}, tools.NewAnthropicTranslator(),
		services.NewToolCallService(client), nil)
	require.NoError(t, err)

	perms := permissions.NewService(client, publisher, permissions.Config{RequestTimeout: 2 * time.Second})
	t.Cleanup(perms.Close)
	require.NoError(t, perms.Hydrate(context.Background()))

	sessions := session.NewManager(registry,
		map[string]*tools.Executor{providers.ProviderAnthropic: toolExec},
		perms, svc.Agents, publisher, session.Config{})
	sessions.SetPersonaResolver(svc.Personas)

	executor := workflow.NewExecutor(svc, sessions, publisher)
	executor.RegisterHandoffTool(toolExec)

	pool := queue.NewWorkerPool("e2e-pod", client, config.QueueConfig{
		WorkerCount:             2,
		MaxConcurrentExecutions: 5,
		PollInterval:            20 * time.Millisecond,
		PollIntervalJitter:      5 * time.Millisecond,
		ExecutionTimeout:        30 * time.Second,
		GracefulShutdownTimeout: 5 * time.Second,
		HeartbeatInterval:       time.Second,
		OrphanDetectionInterval: time.Minute,
		OrphanThreshold:         time.Minute,
	}, executor, svc.Executions, svc.Workflows, nil)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Stop)

	srv := api.NewServer(config.Default(), client, svc, executor, sessions, perms, connManager, pool)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &Harness{Server: ts, Svc: svc, Mock: mock, Perms: perms, Pool: pool}
}

// Do sends one JSON request to the running server.
func (h *Harness) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.Server.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Decode reads the response body into T.
func Decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// CreateWorkflow registers a workflow over the API.
func (h *Harness) CreateWorkflow(t *testing.T, name string, steps ...models.WorkflowStep) *models.Workflow {
	t.Helper()
	resp := h.Do(t, http.MethodPost, "/api/v1/workflows", models.CreateWorkflowRequest{
		Name:  name,
		Steps: steps,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := Decode[models.Workflow](t, resp)
	return &wf
}

// Execute starts a workflow run and returns the pending execution.
func (h *Harness) Execute(t *testing.T, workflowID, initialInput string) *models.Execution {
	t.Helper()
	resp := h.Do(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/execute",
		map[string]string{"initial_input": initialInput})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	exec := Decode[models.Execution](t, resp)
	return &exec
}

// GetExecution fetches the current state of an execution.
func (h *Harness) GetExecution(t *testing.T, id string) *models.Execution {
	t.Helper()
	resp := h.Do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exec := Decode[models.Execution](t, resp)
	return &exec
}

// WaitForStatus polls until the execution reaches the wanted status. A
// different terminal status stops the wait and fails the test.
func (h *Harness) WaitForStatus(t *testing.T, executionID string, want models.ExecutionStatus) *models.Execution {
	t.Helper()
	var last models.Execution
	require.Eventually(t, func() bool {
		resp, err := http.Get(h.Server.URL + "/api/v1/executions/" + executionID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if json.NewDecoder(resp.Body).Decode(&last) != nil {
			return false
		}
		switch last.Status {
		case want, models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
			return true
		}
		return false
	}, waitTimeout, waitInterval,
		"execution %s did not reach %s (last: %s, error: %q)", executionID, want, last.Status, last.ErrorMessage)
	require.Equal(t, want, last.Status,
		"execution %s ended as %s while waiting for %s (error: %q)", executionID, last.Status, want, last.ErrorMessage)
	return &last
}
