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

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
}

// Gemini speaks the generateContent wire format directly. The API has no
// tool-call ids, so the adapter mints them and keeps a name correlation
// for the matching functionResponse.
type Gemini struct {
	cfg  GeminiConfig
	http *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolSet  `json:"tools,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one of text, functionCall, functionResponse.
type geminiPart map[string]any

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewGemini creates the adapter.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Gemini{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (p *Gemini) ID() string { return ProviderGoogle }

func (p *Gemini) Capabilities() Capabilities {
	return Capabilities{
		ToolUse:          true,
		Streaming:        true,
		Vision:           true,
		SystemMessages:   true,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  p.cfg.MaxTokens,
	}
}

func (p *Gemini) IsAvailable(ctx context.Context) bool { return p.cfg.APIKey != "" }

func (p *Gemini) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{p.cfg.DefaultModel, "gemini-2.0-pro"}, nil
}

func (p *Gemini) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Gemini) trackRequest(ctx context.Context) (context.Context, func()) {
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

func (p *Gemini) Chat(ctx context.Context, req Request) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	model := p.model(req)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.cfg.BaseURL, model, p.cfg.APIKey)
	resp, err := p.post(reqCtx, url, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini request failed with status %d: %s", resp.StatusCode, string(raw))
	}
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gemini decode response: %w", err)
	}
	return p.translate(&parsed, nil)
}

func (p *Gemini) ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error) {
	reqCtx, done := p.trackRequest(ctx)
	defer done()

	model := p.model(req)
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.cfg.BaseURL, model, p.cfg.APIKey)
	resp, err := p.post(reqCtx, url, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var (
		text   bytes.Buffer
		uses   []ContentBlock
		usage  Usage
		finish string
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal(line[6:], &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("gemini API error: %s", chunk.Error.Message)
		}
		if chunk.UsageMetadata != nil {
			usage = Usage{InputTokens: chunk.UsageMetadata.PromptTokenCount, OutputTokens: chunk.UsageMetadata.CandidatesTokenCount}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			finish = cand.FinishReason
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part["text"].(string); ok && t != "" {
				text.WriteString(t)
				if onEvent != nil {
					onEvent(StreamEvent{Type: StreamTextDelta, Text: t})
				}
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				block := functionCallBlock(fc)
				uses = append(uses, block)
				if onEvent != nil {
					onEvent(StreamEvent{Type: StreamToolUseStart, ToolUse: &block})
					onEvent(StreamEvent{Type: StreamToolUseEnd, ToolUse: &block})
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gemini read stream: %w", err)
	}

	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	if text.Len() > 0 {
		out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: text.String()})
	}
	out.Blocks = append(out.Blocks, uses...)
	if onEvent != nil {
		onEvent(StreamEvent{Type: StreamMessageEnd})
	}

	stop := geminiStopReason(finish)
	if len(uses) > 0 {
		stop = StopToolUse
	}
	return &Response{Message: out, StopReason: stop, Usage: usage}, nil
}

func (p *Gemini) post(ctx context.Context, url string, wire geminiRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("gemini marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	return resp, nil
}

func (p *Gemini) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.DefaultModel
}

func (p *Gemini) buildRequest(req Request) geminiRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	wire := geminiRequest{
		GenerationConfig: &geminiGenConfig{Temperature: req.Temperature, MaxOutputTokens: maxTokens},
	}
	if req.SystemPrompt != "" {
		wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{"text": req.SystemPrompt}}}
	}
	for _, msg := range req.Messages {
		if content, ok := convertToGeminiContent(msg); ok {
			wire.Contents = append(wire.Contents, content)
		}
	}
	if len(req.Tools) > 0 {
		set := geminiToolSet{}
		for _, t := range req.Tools {
			set.FunctionDeclarations = append(set.FunctionDeclarations, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		wire.Tools = []geminiToolSet{set}
	}
	return wire
}

func convertToGeminiContent(msg ChatMessage) (geminiContent, bool) {
	role := "user"
	if msg.Role == RoleAssistant {
		role = "model"
	}
	var parts []geminiPart
	for _, b := range msg.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				parts = append(parts, geminiPart{"text": b.Text})
			}
		case BlockToolUse:
			parts = append(parts, geminiPart{"functionCall": map[string]any{
				"name": b.ToolName,
				"args": b.ToolInput,
			}})
		case BlockToolResult:
			parts = append(parts, geminiPart{"functionResponse": map[string]any{
				"name":     b.ToolName,
				"response": map[string]any{"content": b.Content, "is_error": b.IsError},
			}})
		}
	}
	if len(parts) == 0 {
		return geminiContent{}, false
	}
	return geminiContent{Role: role, Parts: parts}, true
}

func functionCallBlock(fc map[string]any) ContentBlock {
	name, _ := fc["name"].(string)
	args, _ := fc["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return ContentBlock{
		Type:      BlockToolUse,
		ToolUseID: "gemini-" + uuid.New().String(),
		ToolName:  name,
		ToolInput: args,
	}
}

func (p *Gemini) translate(parsed *geminiResponse, uses []ContentBlock) (*Response, error) {
	if parsed.Error != nil {
		return nil, fmt.Errorf("gemini API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini response has no candidates")
	}
	cand := parsed.Candidates[0]

	out := ChatMessage{Role: RoleAssistant, Timestamp: time.Now().UTC()}
	for _, part := range cand.Content.Parts {
		if t, ok := part["text"].(string); ok && t != "" {
			out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: t})
		}
		if fc, ok := part["functionCall"].(map[string]any); ok {
			uses = append(uses, functionCallBlock(fc))
		}
	}
	out.Blocks = append(out.Blocks, uses...)

	stop := geminiStopReason(cand.FinishReason)
	if len(uses) > 0 {
		stop = StopToolUse
	}
	resp := &Response{Message: out, StopReason: stop}
	if parsed.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}
	return resp, nil
}

func geminiStopReason(finish string) StopReason {
	switch finish {
	case "MAX_TOKENS":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
