package provider

import (
	"encoding/json"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"parley/chat"
)

// ConvertToOllamaMessages converts chat messages to Ollama api messages.
// Tool-call bookkeeping messages are not for the wire; callers filter them
// before conversion (see FilterForTransport).
func ConvertToOllamaMessages(messages []chat.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return result
}

// ConvertToOpenAIMessages converts chat messages to the OpenAI SDK's
// message union. Also used for OpenRouter (OpenAI-compatible).
func ConvertToOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case chat.RoleUser:
			result[i] = openai.UserMessage(msg.Content)
		case chat.RoleAssistant:
			result[i] = openai.AssistantMessage(msg.Content)
		case chat.RoleTool:
			// Tool results travel as user turns; the models treat them as
			// observations either way.
			result[i] = openai.UserMessage(msg.Content)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}

	return result
}

// FilterForTransport drops messages that never go to a provider: tool_call
// bookkeeping records and empty assistant placeholders.
func FilterForTransport(messages []chat.Message) []chat.Message {
	result := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.RoleToolCall {
			continue
		}
		if msg.Role == chat.RoleAssistant && msg.Content == "" {
			continue
		}
		result = append(result, msg)
	}
	return result
}

// ConvertOllamaToolCalls converts Ollama tool calls to the provider-agnostic
// form. Returns nil for empty input, matching the api's nil semantics.
func ConvertOllamaToolCalls(ollamaCalls []api.ToolCall) []ToolCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]ToolCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		result[i] = ToolCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return result
}

// ParseToolArguments parses a JSON arguments string into a map. Used by the
// OpenAI-compatible providers, whose SDKs deliver arguments as raw JSON.
// Unparseable input yields an empty map rather than an error.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return make(map[string]any)
	}
	return args
}
