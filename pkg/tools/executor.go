package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/forge-ide/loom/pkg/masking"
	"github.com/forge-ide/loom/pkg/models"
)

// Requester is the transport used to reach the host editor. The concrete
// implementation is the JSON-RPC client in pkg/ecp.
type Requester interface {
	Request(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// CallRecorder persists the audit trail of tool invocations.
type CallRecorder interface {
	Record(ctx context.Context, tc *models.ToolCallRecord) (*models.ToolCallRecord, error)
	Complete(ctx context.Context, id string, status models.ToolCallStatus, output, errMsg string, started time.Time) error
}

// ToolUse is one tool invocation as requested by a model or a human.
// Name is the provider-facing name; the executor translates it back to the
// canonical catalog.
type ToolUse struct {
	ID              string
	Name            string
	Input           map[string]any
	SessionID       string
	ExecutionID     string
	NodeExecutionID string
	WorkingDir      string
	Timeout         time.Duration
	Caller          models.Caller
}

// ToolResult is the outcome handed back to the model as a tool result
// block. Error is set only when Success is false.
type ToolResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Render flattens the result into the string a model receives as its
// tool_result content. Single-string results come through verbatim;
// structured results are JSON.
func (r ToolResult) Render() string {
	if !r.Success {
		if r.Error != "" {
			return r.Error
		}
		return "tool call failed"
	}
	if len(r.Result) == 1 {
		for _, key := range []string{"content", "output", "text"} {
			if v, ok := r.Result[key].(string); ok {
				return v
			}
		}
	}
	if len(r.Result) == 0 {
		return "ok"
	}
	data, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(data)
}

// Handler executes a tool in-process instead of through the editor.
type Handler func(ctx context.Context, use ToolUse) (map[string]any, error)

// Executor routes tool invocations: custom handlers first, then hidden
// workflow-internal handlers, then translation to an ECP request against
// the host editor. All failure modes are folded into ToolResult; Execute
// never returns an error.
type Executor struct {
	translator Translator
	recorder   CallRecorder
	masker     *masking.Service
	schemas    map[string]*jsonschema.Schema

	mu     sync.RWMutex
	ecp    Requester
	custom map[string]Handler
	hidden map[string]Handler
}

// NewExecutor creates an executor for one provider dialect. ecp may be nil
// when the editor has not connected yet; ECP-backed tools then fail soft
// until SetRequester is called. recorder and masker may be nil in tests.
func NewExecutor(ecp Requester, translator Translator, recorder CallRecorder, masker *masking.Service) (*Executor, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to compile tool schemas: %w", err)
	}
	return &Executor{
		translator: translator,
		recorder:   recorder,
		masker:     masker,
		schemas:    schemas,
		ecp:        ecp,
		custom:     make(map[string]Handler),
		hidden:     make(map[string]Handler),
	}, nil
}

// SetRequester swaps in the editor transport once it connects.
func (e *Executor) SetRequester(ecp Requester) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ecp = ecp
}

// RegisterCustomHandler overrides a tool name with an in-process handler.
// Custom handlers win over translation, so they can shadow catalog tools.
func (e *Executor) RegisterCustomHandler(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = h
}

// RegisterHiddenHandler registers a workflow-internal tool (agent handoff
// and similar). Hidden tools are callable but never advertised to models
// through the catalog.
func (e *Executor) RegisterHiddenHandler(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden[name] = h
}

// IsHidden reports whether the name is a registered workflow-internal
// tool. Hidden tools bypass the permission gate; they never leave the
// process.
func (e *Executor) IsHidden(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.hidden[name]
	return ok
}

// Translator returns the dialect this executor translates with.
func (e *Executor) Translator() Translator {
	return e.translator
}

// Execute runs one tool invocation and returns its result. Panics,
// transport errors and validation failures all come back as a failed
// ToolResult rather than an error.
func (e *Executor) Execute(ctx context.Context, use ToolUse) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool execution panicked", "tool", use.Name, "panic", r)
			result = ToolResult{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", use.Name, r)}
		}
	}()

	if h := e.lookupHandler(use.Name); h != nil {
		return e.runHandler(ctx, use, h)
	}

	canonical, ok := e.translator.GetCanonicalName(use.Name)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", use.Name)}
	}
	def, ok := Lookup(canonical)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", use.Name)}
	}
	method, params, ok := e.translator.MapToolCall(use.Name, use.Input)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", use.Name)}
	}

	// Terminal commands inherit the execution's working directory unless
	// the caller picked one.
	if def.Category == CategoryTerminal && use.WorkingDir != "" {
		if cwd, _ := params["cwd"].(string); cwd == "" {
			params["cwd"] = use.WorkingDir
		}
	}

	if err := e.validateInput(canonical, params); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("invalid input for %s: %v", use.Name, err)}
	}

	recID, started := e.recordStart(ctx, use, method)
	result = e.requestECP(ctx, def, method, params, use.Timeout)
	e.recordFinish(ctx, recID, result, started)
	return result
}

// lookupHandler resolves custom handlers first, hidden handlers second.
func (e *Executor) lookupHandler(name string) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if h, ok := e.custom[name]; ok {
		return h
	}
	if h, ok := e.hidden[name]; ok {
		return h
	}
	return nil
}

func (e *Executor) runHandler(ctx context.Context, use ToolUse, h Handler) ToolResult {
	recID, started := e.recordStart(ctx, use, "")
	out, err := h(ctx, use)
	var result ToolResult
	if err != nil {
		result = ToolResult{Success: false, Error: err.Error()}
	} else {
		result = ToolResult{Success: true, Result: out}
	}
	e.recordFinish(ctx, recID, result, started)
	return result
}

// requestECP performs the editor round-trip and applies terminal exit-code
// and masking policy to the raw result.
func (e *Executor) requestECP(ctx context.Context, def *Definition, method string, params map[string]any, timeout time.Duration) ToolResult {
	e.mu.RLock()
	ecp := e.ecp
	e.mu.RUnlock()
	if ecp == nil {
		return ToolResult{Success: false, Error: "editor connection unavailable"}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := ecp.Request(ctx, method, params)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}

	if e.masker != nil {
		raw = e.masker.MaskResult(raw)
	}

	if def.Category == CategoryTerminal {
		if code, ok := intFromAny(raw["exitCode"]); ok && code != 0 {
			raw["_commandFailed"] = true
			return ToolResult{
				Success: false,
				Result:  raw,
				Error:   fmt.Sprintf("exit code %d", code),
			}
		}
	}

	return ToolResult{Success: true, Result: raw}
}

// validateInput checks required fields and basic types against the
// canonical schema. Tools without a compiled schema pass through.
func (e *Executor) validateInput(canonicalName string, params map[string]any) error {
	sch, ok := e.schemas[canonicalName]
	if !ok {
		return nil
	}
	instance := make(map[string]any, len(params))
	for k, v := range params {
		instance[k] = v
	}
	return sch.Validate(instance)
}

// recordStart writes the running audit row. Recording is best-effort; a
// failed write never blocks the tool call.
func (e *Executor) recordStart(ctx context.Context, use ToolUse, ecpMethod string) (string, time.Time) {
	started := time.Now().UTC()
	if e.recorder == nil {
		return "", started
	}
	rec := &models.ToolCallRecord{
		ExecutionID:     use.ExecutionID,
		NodeExecutionID: use.NodeExecutionID,
		SessionID:       use.SessionID,
		ToolName:        use.Name,
		ECPMethod:       ecpMethod,
		Input:           use.Input,
		Caller:          use.Caller,
	}
	saved, err := e.recorder.Record(ctx, rec)
	if err != nil {
		slog.Warn("Failed to record tool call", "tool", use.Name, "error", err)
		return "", started
	}
	return saved.ID, saved.StartedAt
}

func (e *Executor) recordFinish(ctx context.Context, recID string, result ToolResult, started time.Time) {
	if e.recorder == nil || recID == "" {
		return
	}
	status := models.ToolCallCompleted
	if !result.Success {
		status = models.ToolCallFailed
	}
	var output string
	if result.Result != nil {
		if data, err := json.Marshal(result.Result); err == nil {
			output = string(data)
		}
	}
	if err := e.recorder.Complete(ctx, recID, status, output, result.Error, started); err != nil {
		slog.Warn("Failed to complete tool call record", "tool_call_id", recID, "error", err)
	}
}

// compileSchemas compiles every catalog input schema once. Schemas are
// round-tripped through JSON so the compiler sees plain decoded documents.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(catalog))
	for _, def := range catalog {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", def.CanonicalName, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", def.CanonicalName, err)
		}

		resource := def.CanonicalName + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", def.CanonicalName, err)
		}
		sch, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", def.CanonicalName, err)
		}
		compiled[def.CanonicalName] = sch
	}
	return compiled, nil
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
