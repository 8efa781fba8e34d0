package models

import "time"

// NodeType identifies the handler used for a workflow step.
type NodeType string

// Node types dispatched by the workflow executor.
const (
	NodeTypeTrigger        NodeType = "trigger"
	NodeTypeAgent          NodeType = "agent"
	NodeTypeRouter         NodeType = "router"
	NodeTypeCheckpoint     NodeType = "checkpoint"
	NodeTypeHuman          NodeType = "human"
	NodeTypeDecision       NodeType = "decision"
	NodeTypeVote           NodeType = "vote"
	NodeTypeAwaitInput     NodeType = "await_input"
	NodeTypeReviewPanel    NodeType = "review_panel"
	NodeTypeSplit          NodeType = "split"
	NodeTypeMerge          NodeType = "merge"
	NodeTypeLoop           NodeType = "loop"
	NodeTypeCondition      NodeType = "condition"
	NodeTypeTransform      NodeType = "transform"
	NodeTypeOutput         NodeType = "output"
	NodeTypePermissionGate NodeType = "permission_gate"
)

// KnownNodeTypes holds every node type the executor can dispatch.
var KnownNodeTypes = map[NodeType]bool{
	NodeTypeTrigger: true, NodeTypeAgent: true, NodeTypeRouter: true,
	NodeTypeCheckpoint: true, NodeTypeHuman: true, NodeTypeDecision: true,
	NodeTypeVote: true, NodeTypeAwaitInput: true, NodeTypeReviewPanel: true,
	NodeTypeSplit: true, NodeTypeMerge: true, NodeTypeLoop: true,
	NodeTypeCondition: true, NodeTypeTransform: true, NodeTypeOutput: true,
	NodeTypePermissionGate: true,
}

// MergeStrategy controls when a merge node is ready and what it emits.
type MergeStrategy string

const (
	// MergeWaitAll merges all dependency outputs into one object keyed by step ID.
	MergeWaitAll MergeStrategy = "wait_all"
	// MergeWaitAny forwards the first completed dependency's output.
	MergeWaitAny MergeStrategy = "wait_any"
)

// LoopType selects the iteration style of a loop node.
type LoopType string

const (
	LoopForEach LoopType = "for_each"
	LoopTimes   LoopType = "times"
	LoopWhile   LoopType = "while"
)

// DefaultLoopMaxIterations bounds while-loops that never see a false condition.
const DefaultLoopMaxIterations = 100

// DefaultMaxIterations bounds workflow iterations when a definition does not
// set its own limit.
const DefaultMaxIterations = 10

// WhileCondition is the predicate evaluated by a while-loop node against the
// node input. A nil condition is treated as truthy(input).
type WhileCondition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"` // eq, neq, contains, truthy
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// BranchTargets names the explicit true/false successors of a condition node.
// When absent, the executor falls back to matching dependent step IDs that
// contain "true" or "false".
type BranchTargets struct {
	True  string `json:"true,omitempty" yaml:"true,omitempty"`
	False string `json:"false,omitempty" yaml:"false,omitempty"`
}

// WorkflowStep is a single node in a workflow definition.
type WorkflowStep struct {
	ID           string          `json:"id" yaml:"id"`
	Type         NodeType        `json:"type" yaml:"type"`
	Agent        string          `json:"agent,omitempty" yaml:"agent,omitempty"`
	Prompt       string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	PromptURL    string          `json:"prompt_url,omitempty" yaml:"prompt_url,omitempty"`
	Depends      []string        `json:"depends,omitempty" yaml:"depends,omitempty"`
	AllowedTools []string        `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	DeniedTools  []string        `json:"denied_tools,omitempty" yaml:"denied_tools,omitempty"`
	// Review panel configuration, only for review_panel nodes.
	ReviewQuestion string             `json:"review_question,omitempty" yaml:"review_question,omitempty"`
	ReviewPanel    *ReviewPanelConfig `json:"review_panel,omitempty" yaml:"review_panel,omitempty"`
	// Merge configuration.
	MergeStrategy MergeStrategy `json:"merge_strategy,omitempty" yaml:"merge_strategy,omitempty"`
	// Loop configuration.
	LoopType          LoopType        `json:"loop_type,omitempty" yaml:"loop_type,omitempty"`
	LoopArrayField    string          `json:"loop_array_field,omitempty" yaml:"loop_array_field,omitempty"`
	LoopTimes         int             `json:"loop_times,omitempty" yaml:"loop_times,omitempty"`
	LoopMaxIterations int             `json:"loop_max_iterations,omitempty" yaml:"loop_max_iterations,omitempty"`
	LoopCondition     *WhileCondition `json:"loop_condition,omitempty" yaml:"loop_condition,omitempty"`
	// Condition configuration.
	Branches *BranchTargets `json:"branches,omitempty" yaml:"branches,omitempty"`
	// Checkpoint configuration.
	CheckpointPrompt  string   `json:"checkpoint_prompt,omitempty" yaml:"checkpoint_prompt,omitempty"`
	CheckpointOptions []string `json:"checkpoint_options,omitempty" yaml:"checkpoint_options,omitempty"`
}

// Workflow is an immutable workflow definition shared across executions.
type Workflow struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	Steps               []WorkflowStep `json:"steps"`
	MaxIterations       int            `json:"max_iterations"`
	DefaultAgentID      string         `json:"default_agent_id,omitempty"`
	DefaultAllowedTools []string       `json:"default_allowed_tools,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// FirstStepID returns the ID of the first declared step, or "".
func (w *Workflow) FirstStepID() string {
	if len(w.Steps) == 0 {
		return ""
	}
	return w.Steps[0].ID
}

// CreateWorkflowRequest contains fields for registering a workflow definition.
type CreateWorkflowRequest struct {
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	Steps               []WorkflowStep `json:"steps"`
	MaxIterations       int            `json:"max_iterations,omitempty"`
	DefaultAgentID      string         `json:"default_agent_id,omitempty"`
	DefaultAllowedTools []string       `json:"default_allowed_tools,omitempty"`
}
