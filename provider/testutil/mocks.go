// Package testutil provides mock implementations for testing code that
// depends on the provider package.
package testutil

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/chat"
	"parley/provider"
)

// MockProvider implements provider.Provider for tests. Each method can be
// overridden per test through the corresponding Func field.
type MockProvider struct {
	ChatFunc          func(ctx context.Context, messages []chat.Message, callback provider.StreamCallback) (*provider.Usage, error)
	ChatWithToolsFunc func(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback provider.StreamCallback) (*provider.Usage, error)
	ListModelsFunc    func(ctx context.Context) ([]provider.ModelInfo, error)
	PingFunc          func(ctx context.Context) error

	currentModel string
}

// NewMockProvider creates a mock provider with default implementations that
// stream a canned response.
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
	}
	mock.ChatFunc = mock.defaultChat
	mock.ChatWithToolsFunc = mock.defaultChatWithTools
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = func(ctx context.Context) error { return nil }
	return mock
}

func (m *MockProvider) Chat(ctx context.Context, messages []chat.Message, callback provider.StreamCallback) (*provider.Usage, error) {
	return m.ChatFunc(ctx, messages, callback)
}

func (m *MockProvider) ChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback provider.StreamCallback) (*provider.Usage, error) {
	return m.ChatWithToolsFunc(ctx, messages, tools, callback)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) GetModel() string {
	return m.currentModel
}

func (m *MockProvider) GetDisplayName() string {
	return m.currentModel
}

func (m *MockProvider) SetModel(model string) {
	m.currentModel = model
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

func (m *MockProvider) defaultChat(ctx context.Context, messages []chat.Message, callback provider.StreamCallback) (*provider.Usage, error) {
	for _, word := range []string{"This ", "is ", "a ", "mock ", "response."} {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if callback != nil {
			if err := callback(provider.Chunk{Content: word}); err != nil {
				return nil, err
			}
		}
	}
	return &provider.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (m *MockProvider) defaultChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback provider.StreamCallback) (*provider.Usage, error) {
	return m.defaultChat(ctx, messages, callback)
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{
		{Name: m.currentModel, Provider: "mock", InternalName: m.currentModel},
	}, nil
}
