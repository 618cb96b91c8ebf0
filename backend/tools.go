package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/bridge"
	"parley/chat"
	"parley/config"
	"parley/provider"
)

// gateToolCalls runs requested tool calls through the policy engine:
// allowed calls execute immediately, blocked calls fail without executing,
// and approval-required calls pause the conversation loop until the user
// responds. Returns the updated history and whether the loop paused.
func (l *Local) gateToolCalls(ctx context.Context, chatID, parentID string, calls []provider.ToolCall, history []chat.Message, settings bridge.WorkspaceSettings, prov provider.Provider, tools []mcptypes.Tool, iterationsLeft int) (bool, []chat.Message) {
	engine, err := NewPolicyEngine(ctx, settings.ToolPermission)
	if err != nil {
		l.emit(chat.StreamFailed{ChatID: chatID, MessageID: parentID, Err: err.Error(), CanRetry: false})
		l.clearStream(chatID)
		return true, history
	}

	var pendingCalls []pendingCall

	for _, call := range calls {
		snap := newSnapshot(call)
		toolMsgID := uuid.New().String()

		decision, err := engine.Decide(ctx, snap.Name)
		if err != nil {
			decision = bridge.PolicyRequireApproval
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Backend] Policy evaluation failed for %s, requiring approval: %v", snap.Name, err)
			}
		}

		switch decision {
		case bridge.PolicyBlock:
			snap.Status = chat.ToolError
			snap.Error = "blocked by workspace policy"
			l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
			l.persistToolCall(chatID, toolMsgID, snap)

			resultMsg := toolResultMessage(fmt.Sprintf("Tool %s was blocked by workspace policy and did not run.", snap.Name))
			l.appendToRecord(chatID, resultMsg)
			history = append(history, resultMsg)

		case bridge.PolicyAllow:
			resultMsg := l.executeToolCall(ctx, chatID, toolMsgID, parentID, snap)
			l.appendToRecord(chatID, resultMsg)
			history = append(history, resultMsg)

		default: // require_approval
			snap.Status = chat.ToolPendingPermission
			l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
			l.persistToolCall(chatID, toolMsgID, snap)
			pendingCalls = append(pendingCalls, pendingCall{messageID: toolMsgID, snap: snap})
		}
	}

	if len(pendingCalls) == 0 {
		return false, history
	}

	l.mu.Lock()
	l.pending[parentID] = &pendingPermission{
		chatID:         chatID,
		parentID:       parentID,
		calls:          pendingCalls,
		history:        history,
		iterationsLeft: iterationsLeft,
		settings:       settings,
		prov:           prov,
		tools:          tools,
	}
	l.mu.Unlock()

	// No provider call is in flight while we wait
	l.clearStream(chatID)
	return true, history
}

// RespondToToolPermission implements bridge.Commander. Only the allowed
// tool ids execute; everything else records a denial. The conversation loop
// then resumes with the remaining iteration budget.
func (l *Local) RespondToToolPermission(ctx context.Context, messageID string, approved bool, allowedToolIDs []string) error {
	l.mu.Lock()
	p, ok := l.pending[messageID]
	delete(l.pending, messageID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending permission for message %s", messageID)
	}

	allowed := make(map[string]bool, len(allowedToolIDs))
	if approved {
		for _, id := range allowedToolIDs {
			allowed[id] = true
		}
	}

	history := p.history

	for _, pc := range p.calls {
		switch {
		case allowed[pc.snap.ID]:
			resultMsg := l.executeToolCall(ctx, p.chatID, pc.messageID, p.parentID, pc.snap)
			l.appendToRecord(p.chatID, resultMsg)
			history = append(history, resultMsg)

		default:
			snap := pc.snap
			snap.Status = chat.ToolError
			snap.Error = "denied by user"
			l.emitToolUpdate(p.chatID, pc.messageID, p.parentID, snap)
			l.persistToolCall(p.chatID, pc.messageID, snap)

			resultMsg := toolResultMessage(fmt.Sprintf("Tool %s was denied by the user and did not run.", snap.Name))
			l.appendToRecord(p.chatID, resultMsg)
			history = append(history, resultMsg)
		}
	}

	if p.iterationsLeft <= 0 {
		return nil
	}

	// Resume the loop with a fresh assistant message
	streamCtx, cancel := context.WithCancel(context.Background())
	assistantID := uuid.New().String()

	l.mu.Lock()
	if _, active := l.streams[p.chatID]; active {
		l.mu.Unlock()
		cancel()
		return fmt.Errorf("chat %s is already streaming", p.chatID)
	}
	l.streams[p.chatID] = &streamSession{cancel: cancel, messageID: assistantID}
	l.mu.Unlock()

	go func() {
		defer cancel()
		l.conversationLoop(streamCtx, p.chatID, assistantID, history, p.settings, p.prov, p.tools, p.iterationsLeft)
	}()

	return nil
}

// executeToolCall runs one approved call against its MCP server, emitting
// the executing and terminal snapshots, and returns the role=tool result
// message for the conversation history.
func (l *Local) executeToolCall(ctx context.Context, chatID, toolMsgID, parentID string, snap chat.ToolCallSnapshot) chat.Message {
	snap.Status = chat.ToolExecuting
	l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
	l.persistToolCall(chatID, toolMsgID, snap)

	result, err := l.toolServers.CallTool(ctx, snap.Name, snap.Arguments)

	switch {
	case err != nil:
		snap.Status = chat.ToolError
		snap.Error = err.Error()
		l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
		l.persistToolCall(chatID, toolMsgID, snap)
		return toolResultMessage(fmt.Sprintf("Error executing %s: %v", snap.Name, err))

	case result.IsError:
		text := resultText(result)
		snap.Status = chat.ToolError
		snap.Error = text
		l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
		l.persistToolCall(chatID, toolMsgID, snap)
		return toolResultMessage(fmt.Sprintf("Tool %s reported an error: %s", snap.Name, text))

	default:
		text := resultText(result)
		snap.Status = chat.ToolCompleted
		snap.Result = text
		l.emitToolUpdate(chatID, toolMsgID, parentID, snap)
		l.persistToolCall(chatID, toolMsgID, snap)
		return toolResultMessage(text)
	}
}

func (l *Local) emitToolUpdate(chatID, toolMsgID, parentID string, snap chat.ToolCallSnapshot) {
	l.emit(chat.ToolCallUpdate{
		ChatID:    chatID,
		MessageID: toolMsgID,
		ParentID:  parentID,
		Call:      snap,
	})
}

// persistToolCall writes a tool-call snapshot into the chat record as a
// RoleToolCall message.
func (l *Local) persistToolCall(chatID, toolMsgID string, snap chat.ToolCallSnapshot) {
	content, err := chat.EncodeToolCall(snap)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Failed to encode tool call %s: %v", snap.ID, err)
		}
		return
	}
	l.updateInRecord(chatID, chat.Message{
		ID:        toolMsgID,
		Role:      chat.RoleToolCall,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// newSnapshot builds the initial snapshot for a provider-reported call,
// assigning an id when the provider omitted one.
func newSnapshot(call provider.ToolCall) chat.ToolCallSnapshot {
	id := call.ID
	if id == "" {
		id = uuid.New().String()
	}
	return chat.ToolCallSnapshot{
		ID:        id,
		Name:      call.Name,
		Arguments: call.Arguments,
	}
}

// toolResultMessage wraps tool output as a role=tool history entry.
func toolResultMessage(content string) chat.Message {
	return chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleTool,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// resultText flattens an MCP tool result into text: text blocks joined
// when present, the raw content JSON otherwise.
func resultText(result *mcptypes.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return "Tool executed successfully (no output)"
	}

	var parts []string
	for _, item := range result.Content {
		if tc, ok := item.(mcptypes.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	raw, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("Tool result (marshal error): %v", err)
	}
	return string(raw)
}
