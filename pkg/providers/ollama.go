package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OllamaConfig configures the local Ollama adapter.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// Ollama speaks the local api/chat NDJSON wire format.
type Ollama struct {
	cfg  OllamaConfig
	http *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllama creates the adapter for a local Ollama daemon.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3.3"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Ollama{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (p *Ollama) ID() string { return ProviderOllama }

func (p *Ollama) Capabilities() Capabilities {
	return Capabilities{
		ToolUse:          true,
		Streaming:        true,
		SystemMessages:   true,
		MaxContextTokens: 32768,
		MaxOutputTokens:  p.cfg.MaxTokens,
	}
}

// IsAvailable pings the local daemon.
func (p *Ollama) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Ollama) AvailableModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama decode models: %w", err)
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *Ollama) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Ollama) trackRequest(ctx context.Context) (context.Context, func()) {
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

func (p *Ollama) Chat(ctx context.Context, req Request) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	resp, err := p.post(reqCtx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(raw))
	}
	var chunk ollamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("ollama decode response: %w", err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", chunk.Error)
	}
	return translateOllama(&chunk, chunk.Message.Content, chunk.Message.ToolCalls), nil
}

func (p *Ollama) ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	resp, err := p.post(reqCtx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var (
		text  bytes.Buffer
		calls []ollamaToolCall
		last  ollamaChunk
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama API error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			if onEvent != nil {
				onEvent(StreamEvent{Type: StreamTextDelta, Text: chunk.Message.Content})
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			calls = append(calls, tc)
			if onEvent != nil {
				block := ollamaCallBlock(tc)
				onEvent(StreamEvent{Type: StreamToolUseStart, ToolUse: &block})
				onEvent(StreamEvent{Type: StreamToolUseEnd, ToolUse: &block})
			}
		}
		if chunk.Done {
			last = chunk
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama read stream: %w", err)
	}
	if onEvent != nil {
		onEvent(StreamEvent{Type: StreamMessageEnd})
	}
	return translateOllama(&last, text.String(), calls), nil
}

func (p *Ollama) post(ctx context.Context, wire ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ollama marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	return resp, nil
}

func (p *Ollama) buildRequest(req Request, stream bool) ollamaRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertToOllamaMessages(msg)...)
	}

	wire := ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options:  &ollamaOptions{Temperature: req.Temperature, NumPredict: maxTokens},
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return wire
}

func convertToOllamaMessages(msg ChatMessage) []ollamaMessage {
	switch msg.Role {
	case RoleSystem:
		return []ollamaMessage{{Role: "system", Content: msg.Text()}}
	case RoleUser, RoleTool:
		var out []ollamaMessage
		if text := msg.Text(); text != "" {
			out = append(out, ollamaMessage{Role: "user", Content: text})
		}
		for _, b := range msg.Blocks {
			if b.Type == BlockToolResult {
				out = append(out, ollamaMessage{Role: "tool", Content: b.Content, ToolName: b.ToolName})
			}
		}
		return out
	case RoleAssistant:
		wire := ollamaMessage{Role: "assistant", Content: msg.Text()}
		for _, b := range msg.Blocks {
			if b.Type != BlockToolUse {
				continue
			}
			var tc ollamaToolCall
			tc.Function.Name = b.ToolName
			tc.Function.Arguments = b.ToolInput
			wire.ToolCalls = append(wire.ToolCalls, tc)
		}
		return []ollamaMessage{wire}
	}
	return nil
}

func ollamaCallBlock(tc ollamaToolCall) ContentBlock {
	args := tc.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return ContentBlock{
		Type:      BlockToolUse,
		ToolUseID: "ollama-" + uuid.New().String(),
		ToolName:  tc.Function.Name,
		ToolInput: args,
	}
}

func translateOllama(chunk *ollamaChunk, text string, calls []ollamaToolCall) *Response {
	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	if text != "" {
		out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: text})
	}
	for _, tc := range calls {
		out.Blocks = append(out.Blocks, ollamaCallBlock(tc))
	}
	stop := StopEndTurn
	if len(calls) > 0 {
		stop = StopToolUse
	}
	return &Response{
		Message:    out,
		StopReason: stop,
		Usage:      Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount},
	}
}
