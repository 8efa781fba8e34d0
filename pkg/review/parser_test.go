package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func TestParseResponse_Basic(t *testing.T) {
	parsed := ParseResponse(`I looked at the diff carefully.

VOTE: approve
FEEDBACK: Clean change, the migration is reversible.`)

	assert.Equal(t, models.VoteApprove, parsed.Vote)
	assert.Equal(t, "Clean change, the migration is reversible.", parsed.Feedback)
	assert.Empty(t, parsed.Issues)
}

func TestParseResponse_VoteVariants(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.VoteType
	}{
		{"VOTE: APPROVE", models.VoteApprove},
		{"vote: approved", models.VoteApprove},
		{"**VOTE:** lgtm", models.VoteApprove},
		{"VOTE: request changes", models.VoteRequestChanges},
		{"VOTE: request-changes", models.VoteRequestChanges},
		{"VOTE: needs_changes", models.VoteRequestChanges},
		{"VOTE: CRITICAL", models.VoteCritical},
		{"VOTE: abstain", models.VoteAbstain},
		{"VOTE: maybe?", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseResponse(tt.raw).Vote)
		})
	}
}

func TestParseResponse_MissingVote(t *testing.T) {
	parsed := ParseResponse("This looks fine to me, great work!")
	assert.Equal(t, models.VoteType(""), parsed.Vote)
}

func TestParseResponse_MultilineFeedback(t *testing.T) {
	parsed := ParseResponse(`FEEDBACK: The error handling is incomplete.
Two call sites swallow the error.

VOTE: request_changes`)

	assert.Equal(t, models.VoteRequestChanges, parsed.Vote)
	assert.Contains(t, parsed.Feedback, "error handling is incomplete")
	assert.Contains(t, parsed.Feedback, "Two call sites")
	assert.NotContains(t, parsed.Feedback, "VOTE")
}

func TestParseResponse_IssuesJSON(t *testing.T) {
	parsed := ParseResponse(`VOTE: critical
FEEDBACK: Found a blocker.
ISSUES: [{"severity":"critical","description":"token logged in plain text","location":"auth.go:77"},{"severity":"minor","description":"typo"}]`)

	require.Len(t, parsed.Issues, 2)
	assert.Equal(t, "critical", parsed.Issues[0].Severity)
	assert.Equal(t, "auth.go:77", parsed.Issues[0].Location)
	assert.Equal(t, "typo", parsed.Issues[1].Description)
}

func TestParseResponse_IssuesFenced(t *testing.T) {
	parsed := ParseResponse("VOTE: critical\nISSUES:\n```json\n[{\"severity\":\"critical\",\"description\":\"race on shutdown\"}]\n```")
	require.Len(t, parsed.Issues, 1)
	assert.Equal(t, "race on shutdown", parsed.Issues[0].Description)
}

func TestParseResponse_IssuesSingleObject(t *testing.T) {
	parsed := ParseResponse(`VOTE: request_changes
ISSUES: {"description":"missing nil check"}`)
	require.Len(t, parsed.Issues, 1)
	assert.Equal(t, "missing nil check", parsed.Issues[0].Description)
}

func TestParseResponse_MalformedIssuesIgnored(t *testing.T) {
	parsed := ParseResponse(`VOTE: approve
ISSUES: not json at all`)
	assert.Equal(t, models.VoteApprove, parsed.Vote)
	assert.Empty(t, parsed.Issues)
}
