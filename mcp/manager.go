package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/bridge"
	"parley/config"
)

// Manager owns the lifecycle of MCP server connections and aggregates their
// tools under namespaced names (connection id + "." + tool name).
type Manager struct {
	servers map[string]*ServerProcess
	mu      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		servers: make(map[string]*ServerProcess),
	}
}

// Start connects to a server, initializes the MCP session, and caches its
// tool list. Starting an already-running connection is an error.
func (m *Manager) Start(ctx context.Context, conn bridge.MCPConnection) error {
	m.mu.Lock()
	switch {
	case m.servers[conn.ID] != nil && m.servers[conn.ID].Running:
		m.mu.Unlock()
		return fmt.Errorf("connection %s already running", conn.ID)
	}
	m.mu.Unlock()

	mcpClient, capturedCmd, err := newClient(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", conn.ID, err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "Parley",
				Version: "1.0.0",
			},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", conn.ID, err)
	}

	toolsResult, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools for %s: %w", conn.ID, err)
	}

	m.mu.Lock()
	m.servers[conn.ID] = &ServerProcess{
		ID:      conn.ID,
		Name:    conn.Name,
		Process: capturedCmd,
		Client:  mcpClient,
		Tools:   toolsResult.Tools,
		Running: true,
		Remote:  conn.Type != TransportStdio,
		URL:     conn.URL,
	}
	m.mu.Unlock()

	return nil
}

// Stop closes a server's client and kills its local process if any.
func (m *Manager) Stop(ctx context.Context, connID string) error {
	m.mu.Lock()
	proc, exists := m.servers[connID]
	switch {
	case !exists:
		m.mu.Unlock()
		return fmt.Errorf("connection %s not found", connID)
	}
	// Remove from map immediately so it can't be used mid-shutdown
	proc.Running = false
	delete(m.servers, connID)
	m.mu.Unlock()

	if proc.Client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- proc.Client.Close()
		}()

		select {
		case <-closeDone:
		case <-closeCtx.Done():
			// Close hung; fall through to the kill
		}
	}

	if !proc.Remote && proc.Process != nil && proc.Process.Process != nil {
		if err := proc.Process.Process.Kill(); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] Stop: error killing process for %s: %v", connID, err)
			}
		}
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Stopped connection %s", connID)
	}

	return nil
}

// StopAll shuts every connection down in parallel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	connIDs := make([]string, 0, len(m.servers))
	for id := range m.servers {
		connIDs = append(connIDs, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(connIDs))

	for _, connID := range connIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Stop(ctx, id); err != nil {
				errChan <- err
			}
		}(connID)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Running reports whether a connection is currently up.
func (m *Manager) Running(connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proc, exists := m.servers[connID]
	return exists && proc.Running
}

// Tools returns the aggregated tool list for the given connections, each
// tool namespaced as "<connID>.<toolName>". Connections that are not running
// are skipped.
func (m *Manager) Tools(connIDs []string) []mcptypes.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var allTools []mcptypes.Tool
	for _, connID := range connIDs {
		proc, exists := m.servers[connID]
		if !exists || !proc.Running {
			continue
		}
		for _, tool := range proc.Tools {
			namespaced := tool
			namespaced.Name = NamespaceTool(connID, tool.Name)
			allTools = append(allTools, namespaced)
		}
	}
	return allTools
}

// RefreshTools re-fetches a running connection's tool list.
func (m *Manager) RefreshTools(ctx context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, exists := m.servers[connID]
	if !exists || !proc.Running {
		return fmt.Errorf("connection %s not running", connID)
	}

	toolsResult, err := proc.Client.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to refresh tools: %w", err)
	}

	proc.Tools = toolsResult.Tools
	return nil
}

// CallTool executes a namespaced tool on the connection that owns it.
func (m *Manager) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcptypes.CallToolResult, error) {
	connID, actualName := ParseToolName(toolName)

	m.mu.RLock()
	proc, exists := m.servers[connID]
	m.mu.RUnlock()

	if !exists || !proc.Running {
		return nil, fmt.Errorf("connection %s not running", connID)
	}

	return proc.Client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      actualName,
			Arguments: args,
		},
	})
}

// TestConnection spins up a transient connection, fetches its tools, and
// tears it down. Used by the connection editor's test command.
func TestConnection(ctx context.Context, conn bridge.MCPConnection) ([]mcptypes.Tool, error) {
	m := NewManager()

	testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := m.Start(testCtx, conn); err != nil {
		return nil, err
	}
	defer m.Stop(context.Background(), conn.ID)

	tools := m.Tools([]string{conn.ID})
	return tools, nil
}

// NamespaceTool prefixes a tool name with its connection id.
func NamespaceTool(connID, toolName string) string {
	return connID + "." + toolName
}

// ParseToolName splits a namespaced tool name back into connection id and
// tool name. Names without a namespace come back with an empty connection id.
func ParseToolName(namespacedName string) (string, string) {
	idx := strings.Index(namespacedName, ".")
	if idx == -1 {
		return "", namespacedName
	}
	return namespacedName[:idx], namespacedName[idx+1:]
}
