package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forge-ide/loom/pkg/models"
)

// DefaultPanelTimeout bounds one full panel run when the node config
// carries no timeout.
const DefaultPanelTimeout = 10 * time.Minute

// Invoker runs one reviewer agent against the work under review and
// returns its raw response text. The workflow layer backs this with an AI
// session per reviewer.
type Invoker func(ctx context.Context, reviewer models.ReviewerConfig, subject string) (string, error)

// PanelStore persists panel lifecycle and votes. Implemented by
// services.PanelService.
type PanelStore interface {
	CreatePanel(ctx context.Context, executionID, nodeExecutionID string, config *models.ReviewPanelConfig) (*models.ReviewPanel, error)
	AddVote(ctx context.Context, panel *models.ReviewPanel, vote *models.ReviewVote) error
	CompletePanel(ctx context.Context, panel *models.ReviewPanel, outcome models.ReviewOutcome, summary string) error
}

// Runner drives a review panel: launch reviewers, parse their responses
// into votes, aggregate, and persist the panel record.
type Runner struct {
	store  PanelStore
	invoke Invoker
	logger *slog.Logger
}

// NewRunner creates a panel runner. store may be nil in tests; votes are
// then aggregated without persistence.
func NewRunner(store PanelStore, invoke Invoker) *Runner {
	return &Runner{
		store:  store,
		invoke: invoke,
		logger: slog.With("component", "review"),
	}
}

// Result is the outcome of one panel run.
type Result struct {
	Panel   *models.ReviewPanel
	Votes   []*models.ReviewVote
	Outcome models.ReviewOutcome
	Summary string
	Route   models.OutcomeRoute
}

// Run executes the full panel against the given subject. Reviewer errors
// and timeouts yield abstain votes with the error as feedback; the panel
// itself fails only when it cannot be persisted.
func (r *Runner) Run(ctx context.Context, executionID, nodeExecutionID string, cfg *models.ReviewPanelConfig, subject string) (*Result, error) {
	if cfg == nil || len(cfg.Reviewers) == 0 {
		return nil, fmt.Errorf("review panel needs at least one reviewer")
	}

	var panel *models.ReviewPanel
	if r.store != nil {
		var err error
		panel, err = r.store.CreatePanel(ctx, executionID, nodeExecutionID, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open review panel: %w", err)
		}
	} else {
		panel = &models.ReviewPanel{ExecutionID: executionID, NodeExecutionID: nodeExecutionID, Config: cfg}
	}

	timeout := DefaultPanelTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	panelCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	votes := r.collectVotes(panelCtx, cfg, subject)

	for _, vote := range votes {
		if r.store != nil {
			if err := r.store.AddVote(ctx, panel, vote); err != nil {
				r.logger.Warn("Failed to persist review vote",
					"panel_id", panel.ID, "reviewer", vote.Reviewer, "error", err)
			}
		}
	}

	outcome, summary := Aggregate(cfg, votes)
	if r.store != nil {
		if err := r.store.CompletePanel(ctx, panel, outcome, summary); err != nil {
			return nil, fmt.Errorf("failed to complete review panel: %w", err)
		}
	}

	r.logger.Info("Review panel completed",
		"panel_id", panel.ID, "execution_id", executionID,
		"reviewers", len(cfg.Reviewers), "outcome", string(outcome))

	return &Result{
		Panel:   panel,
		Votes:   votes,
		Outcome: outcome,
		Summary: summary,
		Route:   Route(cfg, outcome),
	}, nil
}

// collectVotes runs every reviewer, concurrently when the config says so,
// and returns their votes in reviewer order.
func (r *Runner) collectVotes(ctx context.Context, cfg *models.ReviewPanelConfig, subject string) []*models.ReviewVote {
	votes := make([]*models.ReviewVote, len(cfg.Reviewers))

	if !cfg.IsParallel() {
		for i, reviewer := range cfg.Reviewers {
			votes[i] = r.runReviewer(ctx, reviewer, subject)
		}
		return votes
	}

	var wg sync.WaitGroup
	for i, reviewer := range cfg.Reviewers {
		wg.Add(1)
		go func(i int, reviewer models.ReviewerConfig) {
			defer wg.Done()
			votes[i] = r.runReviewer(ctx, reviewer, subject)
		}(i, reviewer)
	}
	wg.Wait()
	return votes
}

// runReviewer invokes one reviewer and turns the response into a vote.
// Any failure, including a missing VOTE line, becomes an abstain.
func (r *Runner) runReviewer(ctx context.Context, reviewer models.ReviewerConfig, subject string) *models.ReviewVote {
	weight := reviewer.Weight
	if weight <= 0 {
		weight = 1
	}
	vote := &models.ReviewVote{Reviewer: reviewer.AgentID, Weight: weight}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Reviewer panicked", "reviewer", reviewer.AgentID, "panic", p)
			vote.Vote = models.VoteAbstain
			vote.Feedback = fmt.Sprintf("reviewer panicked: %v", p)
		}
	}()

	response, err := r.invoke(ctx, reviewer, subject)
	if err != nil {
		r.logger.Warn("Reviewer failed", "reviewer", reviewer.AgentID, "error", err)
		vote.Vote = models.VoteAbstain
		vote.Feedback = fmt.Sprintf("reviewer error: %v", err)
		return vote
	}

	parsed := ParseResponse(response)
	if parsed.Vote == "" {
		vote.Vote = models.VoteAbstain
		vote.Feedback = "response carried no VOTE line"
		if parsed.Feedback != "" {
			vote.Feedback = parsed.Feedback
		}
		return vote
	}

	vote.Vote = parsed.Vote
	vote.Feedback = parsed.Feedback
	vote.Issues = parsed.Issues
	return vote
}
