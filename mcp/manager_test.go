package mcp

import (
	"testing"
)

func TestParseToolName(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		expectedConn string
		expectedTool string
	}{
		{
			name:         "namespaced tool",
			input:        "filesystem.read_file",
			expectedConn: "filesystem",
			expectedTool: "read_file",
		},
		{
			name:         "no namespace",
			input:        "read_file",
			expectedConn: "",
			expectedTool: "read_file",
		},
		{
			name:         "extra dots stay in tool name",
			input:        "srv.fs.read",
			expectedConn: "srv",
			expectedTool: "fs.read",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connID, toolName := ParseToolName(tt.input)
			if connID != tt.expectedConn {
				t.Errorf("connection id: got %q, want %q", connID, tt.expectedConn)
			}
			if toolName != tt.expectedTool {
				t.Errorf("tool name: got %q, want %q", toolName, tt.expectedTool)
			}
		})
	}
}

func TestNamespaceToolRoundTrip(t *testing.T) {
	namespaced := NamespaceTool("github", "create_issue")
	connID, toolName := ParseToolName(namespaced)
	if connID != "github" || toolName != "create_issue" {
		t.Errorf("round trip failed: got %q / %q", connID, toolName)
	}
}

func TestManagerToolsSkipsUnknownConnections(t *testing.T) {
	m := NewManager()
	tools := m.Tools([]string{"not-running"})
	if len(tools) != 0 {
		t.Errorf("expected no tools, got %d", len(tools))
	}
}

func TestManagerRunning(t *testing.T) {
	m := NewManager()
	if m.Running("missing") {
		t.Error("expected missing connection to report not running")
	}
}

func TestMeetsMinVersion(t *testing.T) {
	tests := []struct {
		current  string
		minimum  string
		expected bool
	}{
		{"20.1.0", "18.0.0", true},
		{"18.0.0", "18.0.0", true},
		{"16.5.2", "18.0.0", false},
		{"3.12", "3.8", true},
		{"3.7.9", "3.8", false},
	}

	for _, tt := range tests {
		t.Run(tt.current+">="+tt.minimum, func(t *testing.T) {
			if got := meetsMinVersion(tt.current, tt.minimum); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
