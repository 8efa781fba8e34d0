package contextwindow

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func msg(id, role, content string, at time.Time) Message {
	return Message{ID: id, Role: role, Content: content, Timestamp: at}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestBuild_HeadTorsoTail(t *testing.T) {
	base := time.Now().UTC()
	res := Build(Input{
		SystemPrompt: "You are a planner.",
		ActiveMessages: []Message{
			msg("m1", RoleUser, "Design the cache layer.", base),
			msg("m2", RoleAssistant, "Plan: use an LRU keyed by path.", base.Add(time.Second)),
		},
		ContextWindow:    100000,
		TailInstructions: "Respond with a numbered plan.",
	})

	require.Len(t, res.Messages, 4, "head + two torso entries + tail")
	assert.Equal(t, "You are a planner.", res.Messages[0].Content)
	assert.Equal(t, "m1", res.Messages[1].ID)
	assert.Equal(t, "m2", res.Messages[2].ID)
	assert.Equal(t, "Respond with a numbered plan.", res.Messages[3].Content)
	assert.Equal(t, 2, res.MessagesLoaded)
	assert.False(t, res.ExceedsWindow)
	assert.Positive(t, res.TotalTokens)
}

func TestBuild_TrimsOldestFirst(t *testing.T) {
	base := time.Now().UTC()
	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg(
			fmt.Sprintf("m%d", i), RoleUser,
			strings.Repeat("x", 400), // ~100 tokens each
			base.Add(time.Duration(i)*time.Second)))
	}

	res := Build(Input{ActiveMessages: msgs, ContextWindow: 400})
	require.NotEmpty(t, res.Messages)
	// Budget after the response reserve keeps only the newest entries.
	first := res.Messages[0]
	assert.NotEqual(t, "m0", first.ID, "oldest must be trimmed first")
	last := res.Messages[len(res.Messages)-1]
	assert.Equal(t, "m9", last.ID, "newest must survive")
}

func TestBuild_NeverTrimsBelowOneEntry(t *testing.T) {
	res := Build(Input{
		ActiveMessages: []Message{msg("m1", RoleUser, strings.Repeat("x", 9000), time.Now())},
		ContextWindow:  100,
	})
	require.Len(t, res.Messages, 1)
	assert.True(t, res.ExceedsWindow)
}

func TestBuild_DropFilters(t *testing.T) {
	base := time.Now().UTC()
	res := Build(Input{
		ActiveMessages: []Message{
			msg("m1", RoleUser, "keep me", base),
			msg("m2", "tool_call", `{"name":"Read"}`, base),
			msg("m3", RoleAssistant, "", base),
			msg("m4", RoleAssistant, "(No response)", base),
			msg("m5", RoleAssistant, "ok", base),
			msg("m6", RoleAssistant, "a real answer", base),
		},
		ContextWindow: 100000,
	})

	var ids []string
	for _, m := range res.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m6"}, ids)
}

func TestBuild_CompactionReplacesRetiredSpan(t *testing.T) {
	base := time.Now().UTC()
	res := Build(Input{
		ActiveMessages: []Message{
			msg("m5", RoleUser, "latest question", base.Add(time.Hour)),
		},
		Compactions: []Compaction{
			{ID: "c1", Summary: "Earlier: agreed on the schema.", StartMessageID: "m1", Timestamp: base},
		},
		ContextWindow: 100000,
	})

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "c1", res.Messages[0].ID, "compaction sorts before newer messages")
	assert.Equal(t, RoleSystem, res.Messages[0].Role)
	assert.Equal(t, 1, res.CompactionsApplied)
}

func TestBuild_CompactionSkippedWhileSpanActive(t *testing.T) {
	base := time.Now().UTC()
	res := Build(Input{
		ActiveMessages: []Message{
			msg("m1", RoleUser, "still active", base),
		},
		Compactions: []Compaction{
			{ID: "c1", Summary: "Summary of m1 onward.", StartMessageID: "m1", Timestamp: base},
		},
		ContextWindow: 100000,
	})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, "m1", res.Messages[0].ID)
	assert.Zero(t, res.CompactionsApplied)
}

func TestFromMessage_MapsAgentToAssistant(t *testing.T) {
	now := time.Now().UTC()
	m := FromMessage(&models.Message{ID: "m1", Role: models.MessageRoleAgent, Content: "done", CreatedAt: now})
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, "done", m.Content)
	assert.Equal(t, now, m.Timestamp)
}

func TestFromContextItem_Roles(t *testing.T) {
	cases := []struct {
		itemType models.ContextItemType
		role     string
	}{
		{models.ContextItemUserInput, RoleUser},
		{models.ContextItemFeedback, RoleUser},
		{models.ContextItemAgentOutput, RoleAssistant},
		{models.ContextItemCompaction, RoleSystem},
		{models.ContextItemSystem, RoleSystem},
	}
	for _, tc := range cases {
		m := FromContextItem(&models.ContextItem{ItemType: tc.itemType, Content: "x"})
		assert.Equal(t, tc.role, m.Role, string(tc.itemType))
	}
}
