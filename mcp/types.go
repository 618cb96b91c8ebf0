// Package mcp manages connections to MCP tool servers over stdio, SSE, and
// streamable HTTP transports, and converts tool definitions between MCP and
// provider formats.
package mcp

import (
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Transport types for bridge.MCPConnection.Type.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportHTTPStreamable = "http-streamable"
)

// ServerProcess is a running MCP server connection. Process is nil for
// remote transports.
type ServerProcess struct {
	ID      string
	Name    string
	Process *exec.Cmd
	Client  *client.Client
	Tools   []mcptypes.Tool
	Running bool
	Remote  bool
	URL     string
}
