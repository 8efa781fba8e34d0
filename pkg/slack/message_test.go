package slack

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStartedMessage(t *testing.T) {
	blocks := BuildStartedMessage("exec-123", "Release Review", "https://loom.example.com")
	require.Len(t, blocks, 1)

	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "Release Review started")
	assert.Contains(t, section.Text.Text, "https://loom.example.com/executions/exec-123")
}

func TestBuildStartedMessage_DefaultName(t *testing.T) {
	blocks := BuildStartedMessage("exec-123", "", "https://loom.example.com")
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, "Workflow started")
}

func TestBuildTerminalMessage_Completed(t *testing.T) {
	blocks := BuildTerminalMessage(ExecutionCompletedInput{
		ExecutionID: "exec-123",
		Status:      "completed",
		FinalOutput: "All tests pass.",
	}, "https://loom.example.com")
	require.Len(t, blocks, 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Workflow Complete")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Equal(t, "All tests pass.", body.Text.Text)

	actions := blocks[2].(*goslack.ActionBlock)
	btn := actions.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Equal(t, "View Full Output", btn.Text.Text)
	assert.Equal(t, "https://loom.example.com/executions/exec-123", btn.URL)
}

func TestBuildTerminalMessage_Failed(t *testing.T) {
	blocks := BuildTerminalMessage(ExecutionCompletedInput{
		ExecutionID:  "exec-123",
		Status:       "failed",
		ErrorMessage: "iteration budget exhausted",
	}, "https://loom.example.com")
	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "iteration budget exhausted")

	actions := blocks[1].(*goslack.ActionBlock)
	btn := actions.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Equal(t, "View Details", btn.Text.Text)
}

func TestBuildTerminalMessage_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", maxBlockTextLength+500)
	blocks := BuildTerminalMessage(ExecutionCompletedInput{
		ExecutionID: "exec-123",
		Status:      "completed",
		FinalOutput: long,
	}, "https://loom.example.com")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Less(t, len(body.Text.Text), len(long))
	assert.Contains(t, body.Text.Text, "truncated")
}
