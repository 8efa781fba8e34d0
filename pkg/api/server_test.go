package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/tools"
	"github.com/forge-ide/loom/pkg/workflow"
	testdb "github.com/forge-ide/loom/test/database"
)

type fakeECP struct{}

func (fakeECP) Request(_ context.Context, method string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"content": "ok via " + method}, nil
}

type apiHarness struct {
	srv      *Server
	router   *gin.Engine
	svc      workflow.Services
	executor *workflow.Executor
	perms    *permissions.Service
	cfg      *config.Config
}

func newAPIHarness(t *testing.T, turns ...providers.MockTurn) *apiHarness {
	t.Helper()
	client := testdb.NewTestClient(t)
	publisher := events.NewPublisher(client, events.NewBus())

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

	toolExec, err := tools.NewExecutor(fakeECP{}, tools.NewAnthropicTranslator(), nil, nil)
	require.NoError(t, err)
	perms := permissions.NewService(nil, nil, permissions.Config{RequestTimeout: 2 * time.Second})
	t.Cleanup(perms.Close)
	sessions := session.NewManager(registry,
		map[string]*tools.Executor{providers.ProviderAnthropic: toolExec},
		perms, svc.Agents, publisher, session.Config{})

	executor := workflow.NewExecutor(svc, sessions, publisher)

	cfg := config.Default()
	srv := NewServer(cfg, client, svc, executor, sessions, perms, nil, nil)
	return &apiHarness{
		srv:      srv,
		router:   srv.Router(),
		svc:      svc,
		executor: executor,
		perms:    perms,
		cfg:      cfg,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (h *apiHarness) createWorkflow(t *testing.T) *models.Workflow {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/workflows", models.CreateWorkflowRequest{
		Name: "api test",
		Steps: []models.WorkflowStep{
			{ID: "start", Type: models.NodeTypeTrigger},
			{ID: "wait", Type: models.NodeTypeAwaitInput, Depends: []string{"start"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wf := decodeBody[models.Workflow](t, w)
	return &wf
}

func TestHealthHandler(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[HealthResponse](t, w)
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	// No worker pool wired: no verdict, but not unhealthy either.
	_, hasPool := resp.Checks["worker_pool"]
	assert.False(t, hasPool)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("LOOM_TEST_API_KEY", "sekrit")
	h := newAPIHarness(t)
	h.cfg.Server.APIKeyEnv = "LOOM_TEST_API_KEY"
	router := h.srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("X-API-Key", "sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open for unauthenticated probes.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWSHandler_Unavailable(t *testing.T) {
	h := newAPIHarness(t)
	// No ConnectionManager wired.
	w := h.do(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
