package models

import "time"

// ReviewStrategy selects a review panel aggregation rule.
type ReviewStrategy string

const (
	StrategyWeightedThreshold ReviewStrategy = "weighted_threshold"
	StrategyUnanimous         ReviewStrategy = "unanimous"
	StrategyMajority          ReviewStrategy = "majority"
	StrategyAnyCritical       ReviewStrategy = "any_critical"
	StrategyQuorum            ReviewStrategy = "quorum"
)

// VoteType is a reviewer's verdict.
type VoteType string

const (
	VoteCritical       VoteType = "critical"
	VoteRequestChanges VoteType = "request_changes"
	VoteApprove        VoteType = "approve"
	VoteAbstain        VoteType = "abstain"
)

// ReviewOutcome classifies the aggregated panel result.
type ReviewOutcome string

const (
	OutcomeAddressCritical ReviewOutcome = "address_critical"
	OutcomeQueueChanges    ReviewOutcome = "queue_changes"
	OutcomeApproved        ReviewOutcome = "approved"
	OutcomeEscalate        ReviewOutcome = "escalate"
)

// OutcomeAction tells the executor what to do after an outcome.
type OutcomeAction string

const (
	ActionLoop     OutcomeAction = "loop"
	ActionContinue OutcomeAction = "continue"
	ActionPause    OutcomeAction = "pause"
	ActionComplete OutcomeAction = "complete"
)

// Default aggregation thresholds.
const (
	DefaultApproveThreshold = 0.7
	DefaultChangesThreshold = 0.4
)

// ReviewerConfig describes one panel reviewer.
type ReviewerConfig struct {
	AgentID  string `json:"agent_id" yaml:"agent_id"`
	Weight   int    `json:"weight,omitempty" yaml:"weight,omitempty"` // default 1
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Prompt   string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// VotingThresholds tunes the aggregation rules. Nil pointers take defaults:
// CriticalBlocks true, ApproveThreshold 0.7, ChangesThreshold 0.4.
type VotingThresholds struct {
	CriticalBlocks   *bool    `json:"critical_blocks,omitempty" yaml:"critical_blocks,omitempty"`
	ApproveThreshold *float64 `json:"approve_threshold,omitempty" yaml:"approve_threshold,omitempty"`
	ChangesThreshold *float64 `json:"changes_threshold,omitempty" yaml:"changes_threshold,omitempty"`
	Quorum           int      `json:"quorum,omitempty" yaml:"quorum,omitempty"`
}

// OutcomeRoute maps a panel outcome to executor behavior.
type OutcomeRoute struct {
	Action OutcomeAction `json:"action" yaml:"action"`
	Target string        `json:"target,omitempty" yaml:"target,omitempty"`
}

// VotingConfig pairs a strategy with its thresholds.
type VotingConfig struct {
	Strategy   ReviewStrategy    `json:"strategy" yaml:"strategy"`
	Thresholds *VotingThresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ReviewPanelConfig is the per-node review panel configuration.
type ReviewPanelConfig struct {
	Reviewers []ReviewerConfig        `json:"reviewers" yaml:"reviewers"`
	Voting    VotingConfig            `json:"voting" yaml:"voting"`
	Outcomes  map[string]OutcomeRoute `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Parallel  *bool                   `json:"parallel,omitempty" yaml:"parallel,omitempty"` // default true
	TimeoutMs int                     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// IsParallel reports whether reviewers run concurrently (the default).
func (c *ReviewPanelConfig) IsParallel() bool {
	return c.Parallel == nil || *c.Parallel
}

// ReviewIssue is a structured finding attached to a vote.
type ReviewIssue struct {
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

// ReviewVote is one reviewer's recorded verdict. At most one vote per
// (panel, reviewer); later votes replace earlier ones.
type ReviewVote struct {
	ID        string        `json:"id"`
	PanelID   string        `json:"panel_id"`
	Reviewer  string        `json:"reviewer_id"`
	Vote      VoteType      `json:"vote"`
	Feedback  string        `json:"feedback,omitempty"`
	Issues    []ReviewIssue `json:"issues,omitempty"`
	Weight    int           `json:"weight"`
	CreatedAt time.Time     `json:"created_at"`
}

// ReviewPanelStatus is the lifecycle state of a panel run.
type ReviewPanelStatus string

const (
	PanelStatusPending   ReviewPanelStatus = "pending"
	PanelStatusRunning   ReviewPanelStatus = "running"
	PanelStatusCompleted ReviewPanelStatus = "completed"
	PanelStatusFailed    ReviewPanelStatus = "failed"
)

// ReviewPanel is the persisted record of one panel run.
type ReviewPanel struct {
	ID              string             `json:"id"`
	ExecutionID     string             `json:"execution_id"`
	NodeExecutionID string             `json:"node_execution_id"`
	Config          *ReviewPanelConfig `json:"config"`
	Status          ReviewPanelStatus  `json:"status"`
	Outcome         ReviewOutcome      `json:"outcome,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}
