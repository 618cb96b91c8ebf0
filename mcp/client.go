package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"parley/bridge"
	"parley/config"
)

// newClient creates an MCP client for a connection, dispatching on the
// transport type. The returned *exec.Cmd is nil for remote transports.
func newClient(ctx context.Context, conn bridge.MCPConnection) (*client.Client, *exec.Cmd, error) {
	switch conn.Type {
	case TransportStdio:
		return newStdioClient(conn)
	case TransportSSE:
		c, err := newSSEClient(ctx, conn)
		return c, nil, err
	case TransportHTTPStreamable:
		c, err := newStreamableHTTPClient(ctx, conn)
		return c, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown transport type: %s", conn.Type)
	}
}

// newStdioClient spawns a local server process. The command func captures
// the *exec.Cmd so the manager can kill the process on stop.
func newStdioClient(conn bridge.MCPConnection) (*client.Client, *exec.Cmd, error) {
	command := conn.Command
	if conn.RuntimePath != "" {
		command = conn.RuntimePath
	}
	if command == "" {
		return nil, nil, fmt.Errorf("stdio connection %s has no command", conn.ID)
	}

	env := buildEnv(conn.Env)
	var capturedCmd *exec.Cmd

	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		command,
		env,
		conn.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return nil, nil, err
	}

	if capturedCmd != nil && capturedCmd.Process != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Started local server %s with PID %d", conn.ID, capturedCmd.Process.Pid)
	}

	return mcpClient, capturedCmd, nil
}

func newSSEClient(ctx context.Context, conn bridge.MCPConnection) (*client.Client, error) {
	if conn.URL == "" {
		return nil, fmt.Errorf("sse connection %s has no URL", conn.ID)
	}

	var opts []transport.ClientOption
	if len(conn.Headers) > 0 {
		opts = append(opts, transport.WithHeaders(conn.Headers))
	}

	mcpClient, err := client.NewSSEMCPClient(conn.URL, opts...)
	if err != nil {
		return nil, err
	}

	// SSE transports must start before Initialize/ListTools
	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start SSE transport: %w", err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Started SSE transport for %s at %s", conn.ID, conn.URL)
	}

	return mcpClient, nil
}

func newStreamableHTTPClient(ctx context.Context, conn bridge.MCPConnection) (*client.Client, error) {
	if conn.URL == "" {
		return nil, fmt.Errorf("http-streamable connection %s has no URL", conn.ID)
	}

	var opts []transport.StreamableHTTPCOption
	if len(conn.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(conn.Headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(conn.URL, opts...)
	if err != nil {
		return nil, err
	}

	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Started streamable HTTP transport for %s at %s", conn.ID, conn.URL)
	}

	return mcpClient, nil
}

// buildEnv merges connection env vars over the current process environment
// so PATH and friends survive.
func buildEnv(envMap map[string]string) []string {
	env := os.Environ()
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
