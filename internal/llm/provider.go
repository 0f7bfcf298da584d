// Package llm is the generation collaborator: a streaming Ollama chat client
// with native tool calling.
package llm

import (
	"io"
	"time"
)

const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB)
	// This prevents runaway generation from consuming all memory
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Role values for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use; empty falls back to the provider default.
	Model string `json:"model"`

	// SystemPrompt sets the assistant's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`

	// DisableThinking asks reasoning models to skip hidden reasoning.
	DisableThinking bool `json:"disable_thinking,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Delta is one element of a generation stream. The stream ends with exactly
// one Delta carrying Done or Err.
type Delta struct {
	Text  string
	Done  bool
	Err   error
	Model string
}

// ChatResponse contains an accumulated (non-streamed) reply.
type ChatResponse struct {
	Content          string           `json:"content"`
	Model            string           `json:"model"`
	PromptTokens     int              `json:"prompt_tokens,omitempty"`
	CompletionTokens int              `json:"completion_tokens,omitempty"`
	Duration         time.Duration    `json:"duration"`
	FinishReason     string           `json:"finish_reason,omitempty"`
	ToolCalls        []ToolCallResult `json:"tool_calls,omitempty"`
}

// ToolCallResult is one tool invocation requested by the model.
type ToolCallResult struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderConfig contains configuration for the Ollama provider.
type ProviderConfig struct {
	// Endpoint is the API base URL.
	Endpoint string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64
}
