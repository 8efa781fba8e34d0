// Package contextwindow assembles provider-ready prompts from active
// messages and compaction summaries under a token budget. The token
// estimate is a characters-per-token heuristic used only for budgeting,
// never for billing.
package contextwindow

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/forge-ide/loom/pkg/models"
)

// Roles the builder keeps. Entries with any other role are dropped.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// noResponsePlaceholder is emitted by some UI paths for aborted turns and
// must never reach a provider.
const noResponsePlaceholder = "(No response)"

// responseReserveCap bounds the share of the window held back for the
// model's reply.
const responseReserveCap = 8000

// minAssistantChars is the smallest useful assistant message; shorter ones
// are stream fragments or bare acknowledgements.
const minAssistantChars = 5

// Message is one prompt entry.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Compaction summarizes a span of older messages. StartMessageID is the
// first original message the summary covers; the compaction becomes
// eligible for inclusion once that message has left the active set.
type Compaction struct {
	ID             string
	Summary        string
	StartMessageID string
	Timestamp      time.Time
}

// Input is everything Build needs.
type Input struct {
	SystemPrompt     string
	ActiveMessages   []Message
	Compactions      []Compaction
	ContextWindow    int
	TailInstructions string
}

// Result is the assembled prompt plus diagnostics. ExceedsWindow is
// informational: providers receive the assembled prompt either way.
type Result struct {
	Messages           []Message
	TotalTokens        int
	ExceedsWindow      bool
	MessagesLoaded     int
	CompactionsApplied int
}

// EstimateTokens approximates the token count of a text as ceil(len/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

type torsoEntry struct {
	msg            Message
	tokens         int
	fromCompaction bool
}

// Build assembles the prompt: system prompt head, interleaved torso of
// messages and applied compaction summaries sorted by timestamp, optional
// tail instructions. The torso is trimmed oldest-first down to the budget;
// head and tail are never trimmed, and the torso never trims below one
// entry.
func Build(in Input) Result {
	reserve := min(in.ContextWindow/4, responseReserveCap)
	budget := in.ContextWindow - EstimateTokens(in.SystemPrompt) - EstimateTokens(in.TailInstructions) - reserve

	activeIDs := make(map[string]bool, len(in.ActiveMessages))
	for _, m := range in.ActiveMessages {
		activeIDs[m.ID] = true
	}

	var torso []torsoEntry
	for _, m := range in.ActiveMessages {
		if !keepMessage(m) {
			continue
		}
		torso = append(torso, torsoEntry{msg: m, tokens: EstimateTokens(m.Content)})
	}
	for _, c := range in.Compactions {
		if c.Summary == "" || activeIDs[c.StartMessageID] {
			continue
		}
		m := Message{
			ID:        c.ID,
			Role:      RoleSystem,
			Content:   c.Summary,
			Timestamp: c.Timestamp,
		}
		torso = append(torso, torsoEntry{msg: m, tokens: EstimateTokens(c.Summary), fromCompaction: true})
	}

	sort.SliceStable(torso, func(i, j int) bool {
		return torso[i].msg.Timestamp.Before(torso[j].msg.Timestamp)
	})

	torsoTokens := 0
	for _, e := range torso {
		torsoTokens += e.tokens
	}
	for torsoTokens > budget && len(torso) > 1 {
		torsoTokens -= torso[0].tokens
		torso = torso[1:]
	}

	result := Result{}
	if in.SystemPrompt != "" {
		result.Messages = append(result.Messages, Message{Role: RoleSystem, Content: in.SystemPrompt})
	}
	for _, e := range torso {
		result.Messages = append(result.Messages, e.msg)
		if e.fromCompaction {
			result.CompactionsApplied++
		} else {
			result.MessagesLoaded++
		}
	}
	if in.TailInstructions != "" {
		result.Messages = append(result.Messages, Message{Role: RoleSystem, Content: in.TailInstructions})
	}

	result.TotalTokens = EstimateTokens(in.SystemPrompt) + torsoTokens + EstimateTokens(in.TailInstructions)
	result.ExceedsWindow = result.TotalTokens > in.ContextWindow
	return result
}

// keepMessage applies the drop filters: unknown role, blank content, the
// "(No response)" placeholder, and assistant fragments shorter than five
// non-whitespace characters.
func keepMessage(m Message) bool {
	if m.Role != RoleUser && m.Role != RoleAssistant && m.Role != RoleSystem {
		return false
	}
	if strings.TrimSpace(m.Content) == "" {
		return false
	}
	if m.Content == noResponsePlaceholder {
		return false
	}
	if m.Role == RoleAssistant && nonWhitespaceLen(m.Content) < minAssistantChars {
		return false
	}
	return true
}

func nonWhitespaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// FromMessage converts a stored chat message to a prompt entry, mapping
// the agent role to the provider's assistant role.
func FromMessage(m *models.Message) Message {
	role := string(m.Role)
	if m.Role == models.MessageRoleAgent {
		role = RoleAssistant
	}
	return Message{
		ID:        m.ID,
		Role:      role,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

// FromContextItem converts a workflow context item to a prompt entry.
// Tool call and tool result items keep their item type as role and are
// filtered out by Build; they live inside provider sessions, not in
// assembled workflow prompts.
func FromContextItem(ci *models.ContextItem) Message {
	var role string
	switch ci.ItemType {
	case models.ContextItemUserInput, models.ContextItemFeedback:
		role = RoleUser
	case models.ContextItemAgentOutput:
		role = RoleAssistant
	case models.ContextItemSystem, models.ContextItemCompaction:
		role = RoleSystem
	default:
		role = string(ci.ItemType)
	}
	return Message{
		ID:        ci.ID,
		Role:      role,
		Content:   ci.Content,
		Timestamp: ci.CreatedAt,
	}
}
