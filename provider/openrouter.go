package provider

import (
	"context"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"parley/chat"
	"parley/config"
	"parley/mcp"
)

// OpenRouterProvider implements the Provider interface via the OpenAI SDK;
// OpenRouter's API is OpenAI-compatible.
type OpenRouterProvider struct {
	client  openai.Client
	model   string
	baseURL string
	apiKey  string
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
func NewOpenRouterProvider(baseURL, apiKey, model string) (*OpenRouterProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if model == "" {
		model = "meta-llama/llama-3.2-90b-instruct"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenRouterProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// shouldSkipToolInstructions checks if a model BREAKS with explicit tool
// instructions. Most models benefit from them, but some understand tools
// natively and leak XML when prompted about them.
func shouldSkipToolInstructions(modelName string) bool {
	modelLower := strings.ToLower(modelName)

	skipInstructions := []string{
		"qwen", // leaks XML with instructions, works natively without them
	}

	for _, prefix := range skipInstructions {
		if strings.Contains(modelLower, prefix) {
			return true
		}
	}

	return false
}

// convertToolNamesForOpenRouter converts dotted tool names to underscore
// notation. OpenRouter requires names matching ^[a-zA-Z0-9_-]{1,64}$.
// Example: "filesystem.read_file" → "filesystem__read_file"
func convertToolNamesForOpenRouter(tools []mcptypes.Tool) []mcptypes.Tool {
	converted := make([]mcptypes.Tool, len(tools))
	for i, tool := range tools {
		converted[i] = tool
		converted[i].Name = strings.ReplaceAll(tool.Name, ".", "__")
	}
	return converted
}

// convertToolNameFromOpenRouter reverses convertToolNamesForOpenRouter.
func convertToolNameFromOpenRouter(toolName string) string {
	return strings.ReplaceAll(toolName, "__", ".")
}

// Chat implements Provider.Chat by delegating to ChatWithTools with no tools.
func (p *OpenRouterProvider) Chat(ctx context.Context, messages []chat.Message, callback StreamCallback) (*Usage, error) {
	return p.ChatWithTools(ctx, messages, nil, callback)
}

// ChatWithTools implements Provider.ChatWithTools with streaming support.
func (p *OpenRouterProvider) ChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback StreamCallback) (*Usage, error) {
	// Prepend tool instructions if tools present (unless model is blacklisted)
	messagesWithInstructions := messages
	if len(tools) > 0 && !shouldSkipToolInstructions(p.model) {
		toolInstruction := chat.Message{
			Role:    chat.RoleSystem,
			Content: buildToolInstructions(tools),
		}
		messagesWithInstructions = append([]chat.Message{toolInstruction}, messages...)
	}

	if config.Debug && config.DebugLog != nil && len(tools) > 0 {
		config.DebugLog.Printf("[OpenRouter] Model '%s': skip instructions=%v", p.model, shouldSkipToolInstructions(p.model))
	}

	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(messagesWithInstructions),
		Model:    openai.ChatModel(p.model),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if len(tools) > 0 {
		convertedTools := convertToolNamesForOpenRouter(tools)
		params.Tools = mcp.ConvertToolsToOpenAI(convertedTools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	var apiToolCallsDetected bool
	var contentBuilder strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok {
			apiToolCallsDetected = true
			if callback != nil {
				call := ToolCall{
					ID:        tool.ID,
					Name:      convertToolNameFromOpenRouter(tool.Name),
					Arguments: ParseToolArguments(tool.Arguments),
				}
				if err := callback(Chunk{ToolCalls: []ToolCall{call}}); err != nil {
					return nil, err
				}
			}
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content := chunk.Choices[0].Delta.Content
			contentBuilder.WriteString(content)
			if callback != nil {
				if err := callback(Chunk{Content: content}); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("OpenRouter streaming error: %w", err)
	}

	// Safety net for models that leak tool calls into plain text
	if !apiToolCallsDetected && callback != nil {
		fullContent := contentBuilder.String()

		if leakedCalls := ParseLeakedJSONToolCalls(fullContent); len(leakedCalls) > 0 {
			for i := range leakedCalls {
				leakedCalls[i].Name = convertToolNameFromOpenRouter(leakedCalls[i].Name)
			}
			if err := callback(Chunk{ToolCalls: leakedCalls}); err != nil {
				return nil, err
			}
		}

		if leakedCalls := ParseLeakedXMLToolCalls(fullContent); len(leakedCalls) > 0 {
			for i := range leakedCalls {
				leakedCalls[i].Name = convertToolNameFromOpenRouter(leakedCalls[i].Name)
			}
			if err := callback(Chunk{ToolCalls: leakedCalls}); err != nil {
				return nil, err
			}
		}
	}

	var usage *Usage
	if acc.Usage.TotalTokens > 0 {
		usage = &Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
		}
	}

	return usage, nil
}

// ListModels implements Provider.ListModels with vendor prefix stripping.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	modelsPage, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenRouter models: %w", err)
	}

	result := make([]ModelInfo, 0, len(modelsPage.Data))
	for _, m := range modelsPage.Data {
		result = append(result, ModelInfo{
			Name:         stripProviderPrefix(m.ID), // Display: "llama-3.2-90b-instruct"
			InternalName: m.ID,                      // API: "meta-llama/llama-3.2-90b-instruct"
			Size:         0,
			Provider:     "openrouter",
		})
	}

	return result, nil
}

// GetModel implements Provider.GetModel. Returns the full model name with
// vendor prefix, e.g. "qwen/qwen3-coder:free".
func (p *OpenRouterProvider) GetModel() string {
	return p.model
}

// GetDisplayName implements Provider.GetDisplayName with the vendor prefix
// stripped, e.g. "qwen3-coder:free".
func (p *OpenRouterProvider) GetDisplayName() string {
	return stripProviderPrefix(p.model)
}

// SetModel implements Provider.SetModel.
func (p *OpenRouterProvider) SetModel(model string) {
	p.model = model
}

// Ping implements Provider.Ping by attempting to list models.
func (p *OpenRouterProvider) Ping(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("OpenRouter ping failed: %w", err)
	}
	return nil
}

// stripProviderPrefix removes vendor prefixes from OpenRouter model names.
// "meta-llama/llama-3.2-90b-instruct" → "llama-3.2-90b-instruct"
func stripProviderPrefix(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx != -1 {
		return modelName[idx+1:]
	}
	return modelName
}
