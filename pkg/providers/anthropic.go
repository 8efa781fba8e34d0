package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// Anthropic adapts the official SDK to the Provider contract.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAnthropic creates the adapter. The API key may be empty; the provider
// then reports unavailable instead of failing construction.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16384
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (a *Anthropic) ID() string { return ProviderAnthropic }

// Capabilities reports the Claude model family limits.
func (a *Anthropic) Capabilities() Capabilities {
	return Capabilities{
		ToolUse:          true,
		Streaming:        true,
		Vision:           true,
		SystemMessages:   true,
		MaxContextTokens: 200000,
		MaxOutputTokens:  a.cfg.MaxTokens,
	}
}

func (a *Anthropic) IsAvailable(ctx context.Context) bool {
	return a.cfg.APIKey != ""
}

func (a *Anthropic) AvailableModels(ctx context.Context) ([]string, error) {
	// The messages API has no cheap model listing worth a round-trip here;
	// the IDE surfaces the configured default plus known aliases.
	return []string{a.cfg.DefaultModel, "claude-opus-4-5", "claude-haiku-4-5"}, nil
}

// Cancel aborts the in-flight request, if any.
func (a *Anthropic) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Anthropic) trackRequest(ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return reqCtx, func() {
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.mu.Unlock()
	}
}

// Chat performs a non-streaming turn.
func (a *Anthropic) Chat(ctx context.Context, req Request) (*Response, error) {
	reqCtx, done := a.trackRequest(ctx)
	defer done()

	params := a.buildParams(req)
	msg, err := a.client.Messages.New(reqCtx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return a.translateMessage(msg), nil
}

// ChatStream performs a streaming turn, emitting events as blocks arrive
// and returning the accumulated final response.
func (a *Anthropic) ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error) {
	reqCtx, done := a.trackRequest(ctx)
	defer done()

	params := a.buildParams(req)
	stream := a.client.Messages.NewStreaming(reqCtx, params)

	var message anthropic.Message
	current := make(map[int]*ContentBlock)
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		a.emitStreamEvent(event, current, onEvent)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	resp := a.translateMessage(&message)
	if onEvent != nil {
		onEvent(StreamEvent{Type: StreamMessageEnd})
	}
	return resp, nil
}

func (a *Anthropic) emitStreamEvent(event anthropic.MessageStreamEventUnion, current map[int]*ContentBlock, onEvent OnEvent) {
	if onEvent == nil {
		return
	}
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			block := &ContentBlock{Type: BlockToolUse, ToolUseID: tu.ID, ToolName: tu.Name}
			current[int(e.Index)] = block
			onEvent(StreamEvent{Type: StreamToolUseStart, ToolUse: block})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			onEvent(StreamEvent{Type: StreamTextDelta, Text: delta.Text})
		case anthropic.InputJSONDelta:
			if block, ok := current[int(e.Index)]; ok {
				onEvent(StreamEvent{Type: StreamToolUseInputDelta, Text: delta.PartialJSON, ToolUse: block})
			}
		}
	case anthropic.ContentBlockStopEvent:
		if block, ok := current[int(e.Index)]; ok {
			onEvent(StreamEvent{Type: StreamToolUseEnd, ToolUse: block})
			delete(current, int(e.Index))
		}
	}
}

func (a *Anthropic) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertToAnthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		unions := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tool := anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: toolInputSchema(t.InputSchema),
			}
			unions = append(unions, anthropic.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = unions
	}
	return params
}

func toolInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]string); ok {
		out.Required = req
	} else if raw, ok := schema["required"].([]any); ok {
		required := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
		out.Required = required
	}
	return out
}

// convertToAnthropicMessages folds the provider-neutral history into the
// wire shape. Tool results ride on user-role messages per the messages
// API contract.
func convertToAnthropicMessages(messages []ChatMessage) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				input := any(b.ToolInput)
				if b.ToolInput == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		params = append(params, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return params
}

func (a *Anthropic) translateMessage(msg *anthropic.Message) *Response {
	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: variant.Text})
		case anthropic.ToolUseBlock:
			input := make(map[string]any)
			_ = json.Unmarshal(variant.Input, &input)
			out.Blocks = append(out.Blocks, ContentBlock{
				Type:      BlockToolUse,
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				ToolInput: input,
			})
		}
	}

	stop := StopEndTurn
	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		stop = StopToolUse
	case anthropic.StopReasonMaxTokens:
		stop = StopMaxTokens
	case anthropic.StopReasonStopSequence:
		stop = StopSequence
	}

	return &Response{
		Message:    out,
		StopReason: stop,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
