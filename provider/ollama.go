package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"parley/chat"
	"parley/mcp"
)

// OllamaProvider talks to a local or remote Ollama server through the
// official api client.
type OllamaProvider struct {
	client  *api.Client
	model   string
	baseURL string
}

// NewOllamaProvider creates a new Ollama provider instance. Empty arguments
// fall back to the conventional localhost defaults.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:latest"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	client := api.NewClient(parsedURL, http.DefaultClient)

	return &OllamaProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Chat implements Provider.Chat by delegating to ChatWithTools with no tools.
func (p *OllamaProvider) Chat(ctx context.Context, messages []chat.Message, callback StreamCallback) (*Usage, error) {
	return p.ChatWithTools(ctx, messages, nil, callback)
}

// ChatWithTools implements Provider.ChatWithTools. Content, thinking, and
// tool calls all arrive on the same response stream; the final response
// carries eval counts which become the Usage.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback StreamCallback) (*Usage, error) {
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: ConvertToOllamaMessages(messages),
		Stream:   func(b bool) *bool { return &b }(true),
	}

	if len(tools) > 0 {
		req.Tools = mcp.ConvertToolsToOllama(tools)
	}

	var usage *Usage

	respFunc := func(resp api.ChatResponse) error {
		if resp.Done {
			usage = &Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
			}
		}

		if callback == nil {
			return nil
		}

		if resp.Message.Thinking != "" {
			if err := callback(Chunk{Reasoning: resp.Message.Thinking}); err != nil {
				return err
			}
		}

		if len(resp.Message.ToolCalls) > 0 {
			if err := callback(Chunk{ToolCalls: ConvertOllamaToolCalls(resp.Message.ToolCalls)}); err != nil {
				return err
			}
		}

		if resp.Message.Content != "" {
			return callback(Chunk{Content: resp.Message.Content})
		}
		return nil
	}

	if err := p.client.Chat(ctx, req, respFunc); err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return usage, nil
}

// ListModels implements Provider.ListModels.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name:         m.Name,
			Size:         m.Size,
			Provider:     "ollama",
			InternalName: m.Name, // Ollama uses the same name for display and API
		}
	}

	return models, nil
}

// GetModel implements Provider.GetModel.
func (p *OllamaProvider) GetModel() string {
	return p.model
}

// GetDisplayName implements Provider.GetDisplayName. Ollama model names
// carry no vendor prefix, so this matches GetModel.
func (p *OllamaProvider) GetDisplayName() string {
	return p.model
}

// SetModel implements Provider.SetModel.
func (p *OllamaProvider) SetModel(model string) {
	p.model = model
}

// Ping implements Provider.Ping with a lightweight list call.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.List(ctx)
	return err
}

// toolCallingModels tracks which model families support tool calling.
// Curated from Ollama documentation and community testing.
var toolCallingModels = map[string]bool{
	// Known working models with full tool support
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,

	// Models with issues or no tool support
	"llama3-gradient": false,
	"llama3":          false, // original llama3, not 3.1/3.2/3.3
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// orderedPrefixes lists prefixes most-specific first so llama3.2 never
// matches the generic llama3 entry.
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// ModelSupportsToolCalling checks if a model name is known to support
// Ollama's tool calling API. Unknown models default to no support.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)

	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			if supported, exists := toolCallingModels[prefix]; exists {
				return supported
			}
		}
	}

	return false
}

// SupportsToolCalling reports whether the currently selected model supports
// tool calling.
func (p *OllamaProvider) SupportsToolCalling() bool {
	return ModelSupportsToolCalling(p.model)
}
