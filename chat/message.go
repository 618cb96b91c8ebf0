package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleToolCall  Role = "tool_call"
)

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolPendingPermission ToolStatus = "pending_permission"
	ToolExecuting         ToolStatus = "executing"
	ToolCompleted         ToolStatus = "completed"
	ToolError             ToolStatus = "error"
)

// toolStatusRank orders the tool-call lifecycle. Completed and error are
// terminal and share a rank so neither can replace the other.
var toolStatusRank = map[ToolStatus]int{
	ToolPendingPermission: 0,
	ToolExecuting:         1,
	ToolCompleted:         2,
	ToolError:             2,
}

// CanTransition reports whether a tool call may move from one status to
// another. Refreshing the same status is allowed (snapshots carry evolving
// results); otherwise only forward moves are legal.
func CanTransition(from, to ToolStatus) bool {
	if from == to {
		return true
	}
	fromRank, okFrom := toolStatusRank[from]
	toRank, okTo := toolStatusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// TokenUsage holds per-response token metrics.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// Message is a single entry in a chat thread.
//
// For RoleToolCall messages, Content holds a serialized ToolCallSnapshot;
// use DecodeToolCall to read it. Metadata is an opaque JSON payload decoded
// on demand via DecodeMetadata.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Reasoning  string      `json:"reasoning,omitempty"`
	Metadata   string      `json:"metadata,omitempty"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ToolCallSnapshot is the structured record a RoleToolCall message carries
// in its Content field.
type ToolCallSnapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ToolStatus     `json:"status"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EncodeToolCall serializes a snapshot for storage in a message's Content.
func EncodeToolCall(snap ToolCallSnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool call: %w", err)
	}
	return string(data), nil
}

// DecodeToolCall parses a tool-call snapshot out of a message's Content.
// The legacy status alias "calling" is normalized to executing.
func DecodeToolCall(content string) (ToolCallSnapshot, error) {
	var snap ToolCallSnapshot
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return ToolCallSnapshot{}, fmt.Errorf("failed to decode tool call: %w", err)
	}
	if snap.Status == "calling" {
		snap.Status = ToolExecuting
	}
	if _, ok := toolStatusRank[snap.Status]; !ok {
		return ToolCallSnapshot{}, fmt.Errorf("unknown tool call status: %q", snap.Status)
	}
	if snap.ID == "" {
		return ToolCallSnapshot{}, fmt.Errorf("tool call has no id")
	}
	return snap, nil
}
