// Package provider abstracts the LLM backends (Ollama, OpenAI, OpenRouter,
// Anthropic) behind one streaming interface.
//
// The rest of the application works with chat.Message and the provider-
// agnostic types below; each implementation owns the conversion to and from
// its SDK's wire types. Streaming is callback-based: providers invoke the
// StreamCallback once per increment, carrying content text, reasoning text,
// or detected tool calls. Providers that report token usage return it from
// ChatWithTools; the backend estimates when they don't.
package provider

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/chat"
)

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // unused for Ollama
}

// ToolCall is a provider-agnostic tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Chunk is one streamed increment. At most one of the fields is populated
// per callback invocation.
type Chunk struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
}

// Usage is provider-reported token accounting for one completed stream.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamCallback is called for each streamed chunk.
type StreamCallback func(chunk Chunk) error

// ModelInfo describes one model a provider offers.
type ModelInfo struct {
	Name         string // Display name (vendor prefix stripped for OpenRouter)
	Size         int64
	Provider     string // Provider ID: "ollama", "openrouter", "openai", "anthropic"
	InternalName string // Full API name (e.g., "meta-llama/llama-3.2-90b" for OpenRouter)
}

// Provider is the contract every LLM backend implements.
type Provider interface {
	// Chat sends messages and streams the response via callback.
	Chat(ctx context.Context, messages []chat.Message, callback StreamCallback) (*Usage, error)

	// ChatWithTools sends messages with available tools and streams the
	// response. The returned Usage is nil when the provider doesn't report
	// token counts.
	ChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback StreamCallback) (*Usage, error)

	// ListModels returns available models for this provider.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// GetModel returns the currently selected model name (InternalName for
	// API calls; OpenRouter keeps the vendor prefix).
	GetModel() string

	// GetDisplayName returns the model name formatted for UI display.
	GetDisplayName() string

	// SetModel changes the active model.
	SetModel(model string)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
