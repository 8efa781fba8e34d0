package review

import (
	"fmt"
	"strings"

	"github.com/forge-ide/loom/pkg/models"
)

// tally is the weight distribution of one panel's votes. Abstains are
// counted but carry no weight.
type tally struct {
	total    int // non-abstain weight
	critical int
	changes  int
	approve  int
	counted  int // non-abstain vote count (for quorum)
	abstains int
}

func tallyVotes(votes []*models.ReviewVote) tally {
	var t tally
	for _, v := range votes {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		switch v.Vote {
		case models.VoteAbstain:
			t.abstains++
			continue
		case models.VoteCritical:
			t.critical += w
		case models.VoteRequestChanges:
			t.changes += w
		case models.VoteApprove:
			t.approve += w
		default:
			t.abstains++
			continue
		}
		t.total += w
		t.counted++
	}
	return t
}

func criticalBlocks(cfg *models.ReviewPanelConfig) bool {
	if cfg.Voting.Thresholds == nil || cfg.Voting.Thresholds.CriticalBlocks == nil {
		return true
	}
	return *cfg.Voting.Thresholds.CriticalBlocks
}

func approveThreshold(cfg *models.ReviewPanelConfig) float64 {
	if cfg.Voting.Thresholds == nil || cfg.Voting.Thresholds.ApproveThreshold == nil {
		return models.DefaultApproveThreshold
	}
	return *cfg.Voting.Thresholds.ApproveThreshold
}

func changesThreshold(cfg *models.ReviewPanelConfig) float64 {
	if cfg.Voting.Thresholds == nil || cfg.Voting.Thresholds.ChangesThreshold == nil {
		return models.DefaultChangesThreshold
	}
	return *cfg.Voting.Thresholds.ChangesThreshold
}

func quorum(cfg *models.ReviewPanelConfig) int {
	if cfg.Voting.Thresholds == nil {
		return 0
	}
	return cfg.Voting.Thresholds.Quorum
}

// Aggregate folds a panel's votes into an outcome and a human-readable
// summary. Order of rules: quorum, critical block, then the configured
// strategy.
func Aggregate(cfg *models.ReviewPanelConfig, votes []*models.ReviewVote) (models.ReviewOutcome, string) {
	t := tallyVotes(votes)

	if q := quorum(cfg); q > 0 && t.counted < q {
		return models.OutcomeEscalate, fmt.Sprintf("quorum not met: %d of %d required votes; %s",
			t.counted, q, summarize(votes, t))
	}

	if criticalBlocks(cfg) && t.critical > 0 {
		return models.OutcomeAddressCritical, summarize(votes, t)
	}

	if t.total == 0 {
		return models.OutcomeEscalate, "no votes cast; " + summarize(votes, t)
	}

	outcome := applyStrategy(cfg, t)
	return outcome, summarize(votes, t)
}

func applyStrategy(cfg *models.ReviewPanelConfig, t tally) models.ReviewOutcome {
	switch cfg.Voting.Strategy {
	case models.StrategyUnanimous:
		if t.approve == t.total {
			return models.OutcomeApproved
		}
		return models.OutcomeQueueChanges

	case models.StrategyMajority, models.StrategyQuorum:
		// Quorum was already enforced; remaining votes resolve by weight.
		switch {
		case t.approve > t.changes && t.approve > t.critical:
			return models.OutcomeApproved
		case t.changes > t.approve && t.changes > t.critical:
			return models.OutcomeQueueChanges
		case t.critical > t.approve && t.critical > t.changes:
			return models.OutcomeAddressCritical
		default:
			return models.OutcomeEscalate // tie
		}

	case models.StrategyAnyCritical:
		if t.critical > 0 {
			return models.OutcomeAddressCritical
		}
		if t.changes > 0 {
			return models.OutcomeQueueChanges
		}
		return models.OutcomeApproved

	default: // weighted_threshold
		w := float64(t.total)
		if float64(t.approve)/w >= approveThreshold(cfg) {
			return models.OutcomeApproved
		}
		if float64(t.changes)/w >= changesThreshold(cfg) {
			return models.OutcomeQueueChanges
		}
		return models.OutcomeEscalate
	}
}

// summarize renders the vote tally plus all issues, critical findings
// first.
func summarize(votes []*models.ReviewVote, t tally) string {
	var critical, other []string
	for _, v := range votes {
		for _, issue := range v.Issues {
			line := issue.Description
			if issue.Location != "" {
				line = issue.Location + ": " + line
			}
			line = fmt.Sprintf("[%s] %s", v.Reviewer, line)
			if strings.EqualFold(issue.Severity, "critical") {
				critical = append(critical, line)
			} else {
				other = append(other, line)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "votes: %d approve / %d request_changes / %d critical (weight), %d abstain",
		t.approve, t.changes, t.critical, t.abstains)
	if len(critical) > 0 {
		fmt.Fprintf(&b, "\n\nCritical issues (%d):\n- %s", len(critical), strings.Join(critical, "\n- "))
	}
	if len(other) > 0 {
		fmt.Fprintf(&b, "\n\nOther issues (%d):\n- %s", len(other), strings.Join(other, "\n- "))
	}
	return b.String()
}

// defaultRoutes maps outcomes to executor actions when the node config
// does not override them.
var defaultRoutes = map[models.ReviewOutcome]models.OutcomeRoute{
	models.OutcomeApproved:        {Action: models.ActionContinue},
	models.OutcomeAddressCritical: {Action: models.ActionLoop},
	models.OutcomeQueueChanges:    {Action: models.ActionLoop},
	models.OutcomeEscalate:        {Action: models.ActionPause},
}

// Route resolves the executor action for an outcome, preferring the
// node's configured outcome map.
func Route(cfg *models.ReviewPanelConfig, outcome models.ReviewOutcome) models.OutcomeRoute {
	if cfg != nil {
		if route, ok := cfg.Outcomes[string(outcome)]; ok {
			return route
		}
	}
	return defaultRoutes[outcome]
}
