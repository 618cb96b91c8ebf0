// Package bridge defines the typed command/query facade between the chat
// view layer and its backend. The view core only ever talks to a Commander;
// the local backend in package backend is one implementation, and tests
// substitute their own.
package bridge

import (
	"context"

	"parley/chat"
)

// LLMConnection is a configured model-provider endpoint.
type LLMConnection struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	BaseURL  string   `json:"base_url"`
	Provider string   `json:"provider"` // ollama | openai | openrouter | anthropic
	APIKey   string   `json:"-"`        // lives in the credential store, never serialized
	Models   []string `json:"models"`
	Enabled  bool     `json:"enabled"`
}

// MCPConnection is a configured external tool server.
type MCPConnection struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"` // sse | stdio | http-streamable
	URL         string            `json:"url,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	RuntimePath string            `json:"runtime_path,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// Tool-permission policies for ToolPermissionConfig.
const (
	PolicyAllow           = "allow"
	PolicyRequireApproval = "require_approval"
	PolicyBlock           = "block"
)

// ToolPermissionConfig decides what happens when the assistant requests a
// tool: execute immediately, pause for approval, or refuse. Tools maps tool
// names to per-tool policies overriding DefaultPolicy.
type ToolPermissionConfig struct {
	DefaultPolicy  string            `json:"default_policy"`
	Tools          map[string]string `json:"tools,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// WorkspaceSettings is the per-workspace settings record, fetched and saved
// as a unit.
type WorkspaceSettings struct {
	WorkspaceID          string               `json:"workspace_id"`
	SystemMessage        string               `json:"system_message,omitempty"`
	LLMConnectionID      string               `json:"llm_connection_id,omitempty"`
	MCPToolIDs           []string             `json:"mcp_tool_ids,omitempty"`
	StreamEnabled        bool                 `json:"stream_enabled"`
	DefaultModel         string               `json:"default_model,omitempty"`
	ToolPermission       ToolPermissionConfig `json:"tool_permission"`
	MaxAgentIterations   int                  `json:"max_agent_iterations"`
	InternalToolsEnabled bool                 `json:"internal_tools_enabled"`
}

// AgentCard describes an agent addressable with an @id mention.
type AgentCard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolInfo is one tool reported by a connection test.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Commander is the command facade the view layer drives. All methods take a
// context and return plain data or an error; the implementation decides
// what runs locally and what crosses a process boundary.
type Commander interface {
	// Message lifecycle.
	CreateMessage(ctx context.Context, chatID string, msg chat.Message) error
	UpdateMessage(ctx context.Context, chatID string, msg chat.Message) error
	RespondToToolPermission(ctx context.Context, messageID string, approved bool, allowedToolIDs []string) error

	// Streaming control.
	StopStream(ctx context.Context, chatID string) error
	RetryStream(ctx context.Context, chatID, messageID string) error

	// LLM connections.
	ListLLMConnections(ctx context.Context) ([]LLMConnection, error)
	SaveLLMConnection(ctx context.Context, conn LLMConnection) error
	DeleteLLMConnection(ctx context.Context, id string) error
	TestLLMConnection(ctx context.Context, conn LLMConnection) ([]string, error)

	// MCP connections.
	ListMCPConnections(ctx context.Context) ([]MCPConnection, error)
	SaveMCPConnection(ctx context.Context, conn MCPConnection) error
	DeleteMCPConnection(ctx context.Context, id string) error
	TestMCPConnection(ctx context.Context, conn MCPConnection) ([]ToolInfo, error)

	// Workspace settings, fetched and saved as a unit.
	WorkspaceSettings(ctx context.Context, workspaceID string) (WorkspaceSettings, error)
	SaveWorkspaceSettings(ctx context.Context, settings WorkspaceSettings) error

	// Agents for mention autocomplete.
	ListAgents(ctx context.Context) ([]AgentCard, error)

	// Events is the push channel delivering stream, tool-call, and error
	// events. Closed on shutdown.
	Events() <-chan chat.Event
}
