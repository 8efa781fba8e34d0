package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "Workflow Complete",
	"failed":    "Workflow Failed",
	"cancelled": "Workflow Cancelled",
}

func executionURL(executionID, dashboardURL string) string {
	return fmt.Sprintf("%s/executions/%s", dashboardURL, executionID)
}

// BuildStartedMessage creates Block Kit blocks for an execution start
// notification.
func BuildStartedMessage(executionID, workflowName, dashboardURL string) []goslack.Block {
	url := executionURL(executionID, dashboardURL)
	name := workflowName
	if name == "" {
		name = "Workflow"
	}
	text := fmt.Sprintf(":arrows_counterclockwise: *%s started*\n<%s|View in Dashboard>", name, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal execution
// notification.
func BuildTerminalMessage(input ExecutionCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Workflow " + input.Status
	}

	var blocks []goslack.Block
	headerText := fmt.Sprintf("%s *%s*", emoji, label)

	if input.Status == "completed" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		))
		if input.FinalOutput != "" {
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.FinalOutput), false, false),
				nil, nil,
			))
		}
	} else {
		if input.ErrorMessage != "" {
			headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		))
	}

	url := executionURL(input.ExecutionID, dashboardURL)
	buttonText := "View Full Output"
	if input.Status != "completed" {
		buttonText = "View Details"
	}

	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full output in dashboard)_"
}
