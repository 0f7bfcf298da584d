package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TimeoutConfig defines the 3-phase timeout system for Ollama.
// Phase 1 (Connection): Time to receive response headers
// Phase 2 (First Token): Time to receive first token (model loading happens here)
// Phase 3 (Streaming): Max time between tokens during response streaming
type TimeoutConfig struct {
	ConnectionTimeout time.Duration
	FirstTokenTimeout time.Duration
	StreamIdleTimeout time.Duration
}

// DefaultTimeoutConfig returns defaults tuned for a local server with cold starts.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 30 * time.Second,
		FirstTokenTimeout: 120 * time.Second,
		StreamIdleTimeout: 30 * time.Second,
	}
}

// RemoteTimeoutConfig returns more lenient timeouts for remote servers.
func RemoteTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 60 * time.Second,
		FirstTokenTimeout: 300 * time.Second,
		StreamIdleTimeout: 60 * time.Second,
	}
}

// isRemoteEndpoint checks if the Ollama endpoint is a remote server (not localhost).
func isRemoteEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return false
	}
	return true
}

// OllamaProvider talks to Ollama's /api/chat endpoint.
type OllamaProvider struct {
	config        *ProviderConfig
	client        *http.Client
	timeoutConfig TimeoutConfig
}

// OllamaOption is a functional option for configuring OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithTimeoutConfig sets custom timeout configuration for the Ollama provider.
func WithTimeoutConfig(cfg TimeoutConfig) OllamaOption {
	return func(p *OllamaProvider) {
		p.timeoutConfig = cfg
		if transport, ok := p.client.Transport.(*http.Transport); ok {
			transport.ResponseHeaderTimeout = cfg.ConnectionTimeout
		}
	}
}

// WithHTTPClient replaces the HTTP client. Used by tests.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		p.client = c
	}
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig, opts ...OllamaOption) *OllamaProvider {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://127.0.0.1:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	timeoutConfig := DefaultTimeoutConfig()
	if isRemoteEndpoint(cfg.Endpoint) {
		timeoutConfig = RemoteTimeoutConfig()
	}

	p := &OllamaProvider{
		config:        cfg,
		timeoutConfig: timeoutConfig,
		client: &http.Client{
			// No Client.Timeout: it would also bound body streaming.
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeoutConfig.FirstTokenTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the default model.
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Available checks if Ollama is running and has at least one model.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return len(result.Models) > 0
}

// Stream starts a generation and returns its deltas. Connection and HTTP
// status failures are returned directly; anything after that arrives as a
// final Delta with Err set. Cancelling ctx stops the stream and closes the
// channel without a final Delta.
func (p *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan Delta, error) {
	body, err := p.post(ctx, p.buildRequest(req, nil))
	if err != nil {
		return nil, err
	}

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		defer body.Close()

		send := func(d Delta) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- d:
				return true
			}
		}

		var model string
		var total int64
		err := p.pump(ctx, body, func(chunk ollamaChatResponse) error {
			if model == "" {
				model = chunk.Model
			}
			if chunk.Message.Content == "" {
				return nil
			}
			total += int64(len(chunk.Message.Content))
			if total > MaxStreamedResponseSize {
				return fmt.Errorf("response size exceeded limit (%d bytes) - possible runaway generation", MaxStreamedResponseSize)
			}
			if !send(Delta{Text: chunk.Message.Content, Model: chunk.Model}) {
				return ctx.Err()
			}
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			send(Delta{Err: err, Model: model})
			return
		}
		send(Delta{Done: true, Model: model})
	}()
	return out, nil
}

// ChatWithTools sends a chat request with native tool calling support and
// returns the accumulated reply.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, req *ChatRequest, tools []OllamaToolDef) (*ChatResponse, error) {
	start := time.Now()

	body, err := p.post(ctx, p.buildRequest(req, tools))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var content strings.Builder
	var toolCalls []OllamaToolCall
	resp := &ChatResponse{}
	err = p.pump(ctx, body, func(chunk ollamaChatResponse) error {
		content.WriteString(chunk.Message.Content)
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		if resp.Model == "" {
			resp.Model = chunk.Model
		}
		if chunk.Done {
			resp.PromptTokens = chunk.PromptEvalCount
			resp.CompletionTokens = chunk.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		return nil, fmt.Errorf("empty response from Ollama")
	}

	resp.Content = content.String()
	resp.Duration = time.Since(start)
	resp.FinishReason = "stop"
	if len(toolCalls) > 0 {
		resp.FinishReason = "tool_calls"
		resp.ToolCalls = convertToolCalls(toolCalls)
	}
	return resp, nil
}

func (p *OllamaProvider) buildRequest(req *ChatRequest, tools []OllamaToolDef) ollamaChatRequest {
	ollamaReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: true,
		Tools:  tools,
	}
	if ollamaReq.Model == "" {
		ollamaReq.Model = p.config.Model
	}
	if req.DisableThinking {
		think := false
		ollamaReq.Think = &think
	}

	if req.SystemPrompt != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	ollamaReq.Options.Temperature = req.Temperature
	if ollamaReq.Options.Temperature == 0 {
		ollamaReq.Options.Temperature = p.config.Temperature
	}
	ollamaReq.Options.NumPredict = req.MaxTokens
	if ollamaReq.Options.NumPredict == 0 {
		ollamaReq.Options.NumPredict = p.config.MaxTokens
	}
	return ollamaReq
}

func (p *OllamaProvider) post(ctx context.Context, ollamaReq ollamaChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return resp.Body, nil
}

// pump decodes NDJSON chunks from body and hands each to onChunk, enforcing
// the first-token and idle timeouts. It returns nil after the done chunk.
func (p *OllamaProvider) pump(ctx context.Context, body io.Reader, onChunk func(ollamaChatResponse) error) error {
	type streamChunk struct {
		chunk ollamaChatResponse
		err   error
	}

	start := time.Now()
	readCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()

	chunkChan := make(chan streamChunk, 1)
	go func() {
		defer close(chunkChan)
		decoder := json.NewDecoder(body)
		for {
			var chunk ollamaChatResponse
			err := decoder.Decode(&chunk)
			if err == io.EOF {
				return
			}
			select {
			case <-readCtx.Done():
				return
			case chunkChan <- streamChunk{chunk: chunk, err: err}:
			}
			if err != nil || chunk.Done {
				return
			}
		}
	}()

	firstTokenTimer := time.NewTimer(p.timeoutConfig.FirstTokenTimeout)
	defer firstTokenTimer.Stop()
	idleTimer := time.NewTimer(p.timeoutConfig.StreamIdleTimeout)
	idleTimer.Stop()
	defer idleTimer.Stop()

	firstTokenReceived := false
	sawDone := false
	for {
		timeout := firstTokenTimer.C
		if firstTokenReceived {
			timeout = idleTimer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case c, ok := <-chunkChan:
			if !ok {
				if !sawDone {
					return fmt.Errorf("stream ended before completion")
				}
				return nil
			}
			if c.err != nil {
				return fmt.Errorf("decode stream chunk: %w", c.err)
			}
			if c.chunk.Error != "" {
				return fmt.Errorf("ollama stream error: %s", c.chunk.Error)
			}

			if !firstTokenReceived {
				firstTokenReceived = true
				firstTokenTimer.Stop()
			} else if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(p.timeoutConfig.StreamIdleTimeout)

			if err := onChunk(c.chunk); err != nil {
				return err
			}
			if c.chunk.Done {
				sawDone = true
			}

		case <-timeout:
			if !firstTokenReceived {
				return fmt.Errorf("timeout waiting for first token (waited %v, limit %v) - model may be loading or request stalled",
					time.Since(start).Round(time.Millisecond), p.timeoutConfig.FirstTokenTimeout)
			}
			return fmt.Errorf("stream idle timeout (no token received for %v) - model appears to have stalled",
				p.timeoutConfig.StreamIdleTimeout)
		}
	}
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    *bool           `json:"think,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
	Tools    []OllamaToolDef `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OllamaToolCall `json:"tool_calls,omitempty"`
}

// OllamaToolDef declares one callable function to the model.
type OllamaToolDef struct {
	Type     string            `json:"type"`
	Function OllamaFunctionDef `json:"function"`
}

type OllamaFunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type OllamaToolCall struct {
	Function OllamaFunctionCall `json:"function"`
}

type OllamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func convertToolCalls(calls []OllamaToolCall) []ToolCallResult {
	result := make([]ToolCallResult, len(calls))
	for i, call := range calls {
		result[i] = ToolCallResult{
			Name:      call.Function.Name,
			Arguments: string(call.Function.Arguments),
		}
	}
	return result
}
