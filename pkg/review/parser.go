// Package review runs review panels: a set of reviewer agents votes on a
// piece of work and a configured strategy aggregates the votes into an
// outcome the workflow executor can route on.
package review

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/forge-ide/loom/pkg/models"
)

var (
	votePattern     = regexp.MustCompile(`(?im)^\s*\**\s*VOTE\s*\**\s*:\s*(.+)$`)
	feedbackPattern = regexp.MustCompile(`(?im)^\s*\**\s*FEEDBACK\s*\**\s*:\s*`)
	issuesPattern   = regexp.MustCompile(`(?im)^\s*\**\s*ISSUES\s*\**\s*:\s*`)

	fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ParsedReview is a reviewer response decomposed into its sections. Vote
// is empty when the response carried no recognizable VOTE line; callers
// record such responses as abstain.
type ParsedReview struct {
	Vote     models.VoteType
	Feedback string
	Issues   []models.ReviewIssue
}

// ParseResponse extracts VOTE, FEEDBACK and ISSUES sections from a
// reviewer's free-form response. Matching is tolerant: markdown bold
// markers around headers, mixed case and surrounding prose are accepted.
func ParseResponse(text string) *ParsedReview {
	parsed := &ParsedReview{}

	if m := votePattern.FindStringSubmatch(text); m != nil {
		parsed.Vote = normalizeVote(m[1])
	}
	parsed.Feedback = extractSection(text, feedbackPattern)
	if issuesRaw := extractSection(text, issuesPattern); issuesRaw != "" {
		parsed.Issues = parseIssues(issuesRaw)
	}
	return parsed
}

// normalizeVote maps the free-form vote value onto the closed vote set.
// Unrecognized values yield the empty vote (abstain at the caller).
func normalizeVote(raw string) models.VoteType {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.Trim(v, "*`\"'.")
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")

	switch {
	case v == "approve" || v == "approved" || v == "lgtm" || v == "accept":
		return models.VoteApprove
	case v == "critical" || strings.HasPrefix(v, "critical_"):
		return models.VoteCritical
	case v == "request_changes" || v == "changes" || v == "changes_requested" || v == "needs_changes":
		return models.VoteRequestChanges
	case v == "abstain":
		return models.VoteAbstain
	}
	return ""
}

// extractSection returns the text from a section header to the next known
// header (or end of text).
func extractSection(text string, header *regexp.Regexp) string {
	loc := header.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	body := text[loc[1]:]

	// Stop at the next section header so sections can appear in any order.
	end := len(body)
	for _, p := range []*regexp.Regexp{votePattern, feedbackPattern, issuesPattern} {
		if next := p.FindStringIndex(body); next != nil && next[0] < end {
			end = next[0]
		}
	}
	return strings.TrimSpace(body[:end])
}

// parseIssues decodes the ISSUES payload. Accepts a bare JSON array, a
// fenced code block containing one, or a single JSON object.
func parseIssues(raw string) []models.ReviewIssue {
	candidate := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var issues []models.ReviewIssue
	if err := json.Unmarshal([]byte(candidate), &issues); err == nil {
		return issues
	}
	var single models.ReviewIssue
	if err := json.Unmarshal([]byte(candidate), &single); err == nil && single.Description != "" {
		return []models.ReviewIssue{single}
	}
	return nil
}
