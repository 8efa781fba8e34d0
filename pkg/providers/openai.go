package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// OpenAI translates neutral requests into Chat Completions calls via
// go-openai and maps responses back.
type OpenAI struct {
	cfg  OpenAIConfig
	chat *openai.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAI{cfg: cfg, chat: openai.NewClientWithConfig(clientCfg)}
}

func (p *OpenAI) ID() string { return ProviderOpenAI }

func (p *OpenAI) Capabilities() Capabilities {
	return Capabilities{
		ToolUse:          true,
		Streaming:        true,
		Vision:           true,
		SystemMessages:   true,
		MaxContextTokens: 128000,
		MaxOutputTokens:  p.cfg.MaxTokens,
	}
}

func (p *OpenAI) IsAvailable(ctx context.Context) bool { return p.cfg.APIKey != "" }

func (p *OpenAI) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{p.cfg.DefaultModel, "gpt-4o-mini", "o3-mini"}, nil
}

func (p *OpenAI) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *OpenAI) trackRequest(ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	return reqCtx, func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
	}
}

func (p *OpenAI) Chat(ctx context.Context, req Request) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	resp, err := p.chat.CreateChatCompletion(reqCtx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := resp.Choices[0]
	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Blocks = append(out.Blocks, toolCallBlock(tc))
	}
	return &Response{
		Message:    out,
		StopReason: openAIStopReason(choice.FinishReason),
		Usage:      Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}, nil
}

func (p *OpenAI) ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	wire := p.buildRequest(req)
	wire.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := p.chat.CreateChatCompletionStream(reqCtx, wire)
	if err != nil {
		return nil, fmt.Errorf("openai start stream: %w", err)
	}
	defer stream.Close()

	var (
		text      bytes.Buffer
		toolCalls = make(map[int]*openai.ToolCall)
		started   = make(map[int]*ContentBlock)
		usage     Usage
		finish    openai.FinishReason
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai read stream: %w", err)
		}
		if chunk.Usage != nil {
			usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onEvent != nil {
				onEvent(StreamEvent{Type: StreamTextDelta, Text: choice.Delta.Content})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			acc, ok := toolCalls[index]
			if !ok {
				acc = &openai.ToolCall{}
				toolCalls[index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments

			if _, seen := started[index]; !seen && acc.ID != "" && acc.Function.Name != "" {
				block := &ContentBlock{Type: BlockToolUse, ToolUseID: acc.ID, ToolName: acc.Function.Name}
				started[index] = block
				if onEvent != nil {
					onEvent(StreamEvent{Type: StreamToolUseStart, ToolUse: block})
				}
			}
			if tc.Function.Arguments != "" && onEvent != nil {
				if block, seen := started[index]; seen {
					onEvent(StreamEvent{Type: StreamToolUseInputDelta, Text: tc.Function.Arguments, ToolUse: block})
				}
			}
		}
	}

	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	if text.Len() > 0 {
		out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: text.String()})
	}
	indexes := make([]int, 0, len(toolCalls))
	for i := range toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		block := toolCallBlock(*toolCalls[i])
		out.Blocks = append(out.Blocks, block)
		if onEvent != nil {
			onEvent(StreamEvent{Type: StreamToolUseEnd, ToolUse: &block})
		}
	}
	if onEvent != nil {
		onEvent(StreamEvent{Type: StreamMessageEnd})
	}

	stop := openAIStopReason(finish)
	if len(toolCalls) > 0 {
		stop = StopToolUse
	}
	return &Response{Message: out, StopReason: stop, Usage: usage}, nil
}

func (p *OpenAI) buildRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertToOpenAIMessages(msg)...)
	}

	wire := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
	}
	if req.Temperature != nil {
		wire.Temperature = float32(*req.Temperature)
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return wire
}

// convertToOpenAIMessages maps one neutral message to wire messages. Tool
// results become dedicated tool-role messages, one per result.
func convertToOpenAIMessages(msg ChatMessage) []openai.ChatCompletionMessage {
	switch msg.Role {
	case RoleSystem:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: msg.Text()}}
	case RoleUser:
		var out []openai.ChatCompletionMessage
		if text := msg.Text(); text != "" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
		}
		for _, b := range msg.Blocks {
			if b.Type == BlockToolResult {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: b.Content, ToolCallID: b.ToolUseID})
			}
		}
		return out
	case RoleTool:
		var out []openai.ChatCompletionMessage
		for _, b := range msg.Blocks {
			if b.Type == BlockToolResult {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: b.Content, ToolCallID: b.ToolUseID})
			}
		}
		return out
	case RoleAssistant:
		wire := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
		for _, b := range msg.Blocks {
			if b.Type != BlockToolUse {
				continue
			}
			args, _ := json.Marshal(b.ToolInput)
			wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
				ID:       b.ToolUseID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: b.ToolName, Arguments: string(args)},
			})
		}
		return []openai.ChatCompletionMessage{wire}
	}
	return nil
}

func toolCallBlock(tc openai.ToolCall) ContentBlock {
	input := make(map[string]any)
	if tc.Function.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
	}
	return ContentBlock{
		Type:      BlockToolUse,
		ToolUseID: tc.ID,
		ToolName:  tc.Function.Name,
		ToolInput: input,
	}
}

func openAIStopReason(finish openai.FinishReason) StopReason {
	switch finish {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonLength:
		return StopMaxTokens
	}
	return StopEndTurn
}
