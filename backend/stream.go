package backend

import (
	"context"
	"errors"
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

// startStream registers a stream session for a chat and launches the
// conversation loop. A chat with an active stream refuses a second start.
func (l *Local) startStream(chatID string, history []chat.Message, settings bridge.WorkspaceSettings) error {
	prov, err := l.providerFactory(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	assistantID := uuid.New().String()

	l.mu.Lock()
	if _, active := l.streams[chatID]; active {
		l.mu.Unlock()
		cancel()
		return fmt.Errorf("chat %s is already streaming", chatID)
	}
	l.streams[chatID] = &streamSession{cancel: cancel, messageID: assistantID}
	l.mu.Unlock()

	history = withSystemMessage(history, settings.SystemMessage)
	tools := l.toolServers.Tools(settings.MCPToolIDs)

	iterations := settings.MaxAgentIterations
	if iterations < 1 {
		iterations = 1
	}

	go func() {
		defer cancel()
		l.conversationLoop(ctx, chatID, assistantID, history, settings, prov, tools, iterations)
	}()

	return nil
}

// conversationLoop runs provider turns until the model stops requesting
// tools, the iteration budget runs out, or a permission request pauses it.
func (l *Local) conversationLoop(ctx context.Context, chatID, assistantID string, history []chat.Message, settings bridge.WorkspaceSettings, prov provider.Provider, tools []mcptypes.Tool, iterationsLeft int) {
	msgID := assistantID

	for iterationsLeft > 0 {
		iterationsLeft--

		start := time.Now()
		var content strings.Builder
		var reasoning strings.Builder
		var toolCalls []provider.ToolCall

		callback := func(chunk provider.Chunk) error {
			switch {
			case chunk.Content != "":
				content.WriteString(chunk.Content)
				l.emit(chat.TokenDelta{ChatID: chatID, MessageID: msgID, Delta: chunk.Content})
			case chunk.Reasoning != "":
				reasoning.WriteString(chunk.Reasoning)
				l.emit(chat.ReasoningDelta{ChatID: chatID, MessageID: msgID, Delta: chunk.Reasoning})
			case len(chunk.ToolCalls) > 0:
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			return nil
		}

		usage, err := prov.ChatWithTools(ctx, provider.FilterForTransport(history), tools, callback)
		duration := time.Since(start)

		if err != nil {
			l.finishWithError(ctx, chatID, msgID, content.String(), reasoning.String(), err)
			l.clearStream(chatID)
			return
		}

		finalContent := content.String()
		if len(toolCalls) > 0 {
			finalContent = provider.CleanLeakedToolCalls(finalContent)
		}

		tokenUsage := finalizeUsage(usage, history, finalContent, reasoning.String(), duration)

		assistantMsg := chat.Message{
			ID:         msgID,
			Role:       chat.RoleAssistant,
			Content:    finalContent,
			Reasoning:  reasoning.String(),
			TokenUsage: tokenUsage,
			Timestamp:  time.Now(),
		}

		if finalContent != "" || assistantMsg.Reasoning != "" {
			l.appendToRecord(chatID, assistantMsg)
			history = append(history, assistantMsg)
		}

		l.emit(chat.Completed{ChatID: chatID, MessageID: msgID, Usage: tokenUsage})

		if len(toolCalls) == 0 {
			l.clearStream(chatID)
			return
		}

		paused, updatedHistory := l.gateToolCalls(ctx, chatID, msgID, toolCalls, history, settings, prov, tools, iterationsLeft)
		if paused {
			return
		}
		history = updatedHistory
		msgID = uuid.New().String()
	}

	l.clearStream(chatID)
}

// finishWithError persists any partial content and reports the failure. A
// user-stopped stream reports StreamStopped instead; applied content stands
// either way.
func (l *Local) finishWithError(ctx context.Context, chatID, msgID, content, reasoning string, streamErr error) {
	stopped := false
	l.mu.Lock()
	if session, ok := l.streams[chatID]; ok {
		stopped = session.stopped
	}
	l.mu.Unlock()

	if content != "" || reasoning != "" {
		l.appendToRecord(chatID, chat.Message{
			ID:        msgID,
			Role:      chat.RoleAssistant,
			Content:   content,
			Reasoning: reasoning,
			Timestamp: time.Now(),
		})
	}

	switch {
	case stopped || errors.Is(streamErr, context.Canceled):
		l.emit(chat.StreamStopped{ChatID: chatID})
	default:
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Stream failed for chat %s: %v", chatID, streamErr)
		}
		l.emit(chat.StreamFailed{
			ChatID:    chatID,
			MessageID: msgID,
			Err:       streamErr.Error(),
			CanRetry:  true,
		})
	}
}

// clearStream drops a chat's stream session.
func (l *Local) clearStream(chatID string) {
	l.mu.Lock()
	if session, ok := l.streams[chatID]; ok {
		session.cancel()
		delete(l.streams, chatID)
	}
	l.mu.Unlock()
}

// providerForSettings builds the provider for a workspace's active LLM
// connection and model.
func (l *Local) providerForSettings(settings bridge.WorkspaceSettings) (provider.Provider, error) {
	if settings.LLMConnectionID == "" {
		return nil, fmt.Errorf("workspace %s has no LLM connection configured", settings.WorkspaceID)
	}

	conn, err := l.connections.LoadLLM(settings.LLMConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load LLM connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("LLM connection %s not found", settings.LLMConnectionID)
	}

	return provider.NewProvider(provider.Config{
		Type:    provider.MapProviderIDToType(conn.Provider),
		BaseURL: conn.BaseURL,
		Model:   settings.DefaultModel,
		APIKey:  l.resolveAPIKey(*conn),
	})
}

// finalizeUsage turns provider-reported usage into the message's token
// metrics, estimating with the tokenizer when the provider stayed silent.
func finalizeUsage(reported *provider.Usage, history []chat.Message, content, reasoning string, duration time.Duration) *chat.TokenUsage {
	var prompt, completion int

	switch {
	case reported != nil:
		prompt = reported.PromptTokens
		completion = reported.CompletionTokens
	default:
		for _, m := range history {
			prompt += provider.EstimateTokens(m.Content)
		}
		completion = provider.EstimateMessageTokens(content, reasoning)
	}

	var tps float64
	if secs := duration.Seconds(); secs > 0 {
		tps = float64(completion) / secs
	}

	return &chat.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		TokensPerSecond:  tps,
	}
}

// withSystemMessage prepends the workspace system message unless the
// history already opens with one.
func withSystemMessage(history []chat.Message, systemMessage string) []chat.Message {
	if systemMessage == "" {
		return history
	}
	if len(history) > 0 && history[0].Role == chat.RoleSystem {
		return history
	}

	prefixed := make([]chat.Message, 0, len(history)+1)
	prefixed = append(prefixed, chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleSystem,
		Content:   systemMessage,
		Timestamp: time.Now(),
	})
	return append(prefixed, history...)
}

// appendToRecord persists a message onto a chat's stored record.
func (l *Local) appendToRecord(chatID string, msg chat.Message) {
	record, err := l.chats.Load(chatID)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Failed to load chat %s for append: %v", chatID, err)
		}
		return
	}
	record.Messages = append(record.Messages, msg)
	if err := l.chats.Save(record); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Backend] Failed to persist message for chat %s: %v", chatID, err)
	}
}

// updateInRecord rewrites a persisted message in place, keyed by id.
func (l *Local) updateInRecord(chatID string, msg chat.Message) {
	record, err := l.chats.Load(chatID)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Failed to load chat %s for update: %v", chatID, err)
		}
		return
	}
	for i := range record.Messages {
		if record.Messages[i].ID == msg.ID {
			record.Messages[i] = msg
			if err := l.chats.Save(record); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[Backend] Failed to persist update for chat %s: %v", chatID, err)
			}
			return
		}
	}
	// Not present yet; append instead
	record.Messages = append(record.Messages, msg)
	if err := l.chats.Save(record); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Backend] Failed to persist update for chat %s: %v", chatID, err)
	}
}
