package provider

import (
	"testing"
)

// Compile-time checks that every provider satisfies the Provider interface.
var (
	_ Provider = (*OllamaProvider)(nil)
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*OpenRouterProvider)(nil)
	_ Provider = (*AnthropicProvider)(nil)
)

func TestNewOllamaProviderDefaults(t *testing.T) {
	p, err := NewOllamaProvider("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.GetModel() != "llama3.1:latest" {
		t.Errorf("default model: got %q, want %q", p.GetModel(), "llama3.1:latest")
	}
}

func TestNewOllamaProviderInvalidURL(t *testing.T) {
	_, err := NewOllamaProvider("://not-a-url", "llama3.1")
	if err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}

func TestModelSupportsToolCalling(t *testing.T) {
	tests := []struct {
		model    string
		expected bool
	}{
		{"llama3.1:latest", true},
		{"llama3.1:70b", true},
		{"qwen2.5:14b", true},
		{"mistral:latest", true},
		{"llama2:latest", false},
		{"gemma:7b", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ModelSupportsToolCalling(tt.model); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSetModel(t *testing.T) {
	p, err := NewOllamaProvider("http://localhost:11434", "llama3.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.SetModel("qwen2.5:14b")
	if p.GetModel() != "qwen2.5:14b" {
		t.Errorf("got %q, want %q", p.GetModel(), "qwen2.5:14b")
	}
}
