// Package backend implements the bridge.Commander facade in-process:
// provider streaming, MCP tool execution behind a policy gate, permission
// resumption, and write-through persistence.
package backend

import (
	"context"
	"fmt"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/bridge"
	"parley/chat"
	"parley/config"
	"parley/mcp"
	"parley/provider"
	"parley/storage"
)

// Local is the in-process backend. It owns the push-event channel and the
// per-chat stream lifecycle.
type Local struct {
	cfg         *config.Config
	chats       *storage.ChatStorage
	connections *storage.ConnectionStorage
	workspaces  *storage.WorkspaceStorage
	toolServers *mcp.Manager

	events chan chat.Event

	// providerFactory builds the provider for a stream; tests swap it out.
	providerFactory func(settings bridge.WorkspaceSettings) (provider.Provider, error)

	mu      sync.Mutex
	streams map[string]*streamSession     // chatID -> active stream
	pending map[string]*pendingPermission // parent message id -> paused tool calls
}

// streamSession is one in-flight provider stream.
type streamSession struct {
	cancel    context.CancelFunc
	messageID string
	stopped   bool
}

// pendingPermission holds everything needed to resume a conversation loop
// paused on a permission request.
type pendingPermission struct {
	chatID         string
	parentID       string
	calls          []pendingCall
	history        []chat.Message
	iterationsLeft int
	settings       bridge.WorkspaceSettings
	prov           provider.Provider
	tools          []mcptypes.Tool
}

type pendingCall struct {
	messageID string
	snap      chat.ToolCallSnapshot
}

// New creates a local backend over the given storage layers.
func New(cfg *config.Config, chats *storage.ChatStorage, connections *storage.ConnectionStorage, workspaces *storage.WorkspaceStorage) *Local {
	l := &Local{
		cfg:         cfg,
		chats:       chats,
		connections: connections,
		workspaces:  workspaces,
		toolServers: mcp.NewManager(),
		events:      make(chan chat.Event, 256),
		streams:     make(map[string]*streamSession),
		pending:     make(map[string]*pendingPermission),
	}
	l.providerFactory = l.providerForSettings
	return l
}

// StartToolServers connects every enabled MCP connection. Failures log and
// skip; one bad server must not block startup.
func (l *Local) StartToolServers(ctx context.Context) {
	conns, err := l.connections.ListMCP()
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Failed to list MCP connections: %v", err)
		}
		return
	}

	for _, conn := range conns {
		if !conn.Enabled {
			continue
		}
		if err := l.toolServers.Start(ctx, conn); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Backend] Failed to start MCP connection %s: %v", conn.ID, err)
			}
		}
	}
}

// Shutdown cancels active streams, stops tool servers, and closes the event
// channel.
func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	for _, session := range l.streams {
		session.cancel()
	}
	l.streams = make(map[string]*streamSession)
	l.mu.Unlock()

	err := l.toolServers.StopAll(ctx)
	close(l.events)
	return err
}

// Events implements bridge.Commander.
func (l *Local) Events() <-chan chat.Event {
	return l.events
}

// emit delivers an event without blocking the stream goroutine forever; a
// full channel drops the event after logging.
func (l *Local) emit(event chat.Event) {
	select {
	case l.events <- event:
	default:
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Event channel full, dropping %T for chat %s", event, event.Chat())
		}
	}
}

// CreateMessage implements bridge.Commander. Persisting a user message in a
// stream-enabled workspace starts the provider stream for that chat; a chat
// that is already streaming refuses the start.
func (l *Local) CreateMessage(ctx context.Context, chatID string, msg chat.Message) error {
	record, err := l.loadOrCreateRecord(chatID, msg)
	if err != nil {
		return err
	}

	record.Messages = append(record.Messages, msg)
	if err := l.chats.Save(record); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	if msg.Role != chat.RoleUser {
		return nil
	}

	settings, err := l.workspaces.Load(l.cfg.Workspace)
	if err != nil {
		return fmt.Errorf("failed to load workspace settings: %w", err)
	}
	if !settings.StreamEnabled {
		return nil
	}

	return l.startStream(chatID, record.Messages, settings)
}

// UpdateMessage implements bridge.Commander. It replaces a persisted message
// in place, keyed by id.
func (l *Local) UpdateMessage(ctx context.Context, chatID string, msg chat.Message) error {
	record, err := l.chats.Load(chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	for i := range record.Messages {
		if record.Messages[i].ID == msg.ID {
			record.Messages[i] = msg
			return l.chats.Save(record)
		}
	}

	return fmt.Errorf("message %s not found in chat %s", msg.ID, chatID)
}

// StopStream implements bridge.Commander. Stopping is a context cancel plus
// a StreamStopped event; applied content stands.
func (l *Local) StopStream(ctx context.Context, chatID string) error {
	l.mu.Lock()
	session, exists := l.streams[chatID]
	if exists {
		session.stopped = true
		session.cancel()
	}
	l.mu.Unlock()

	if !exists {
		return fmt.Errorf("no active stream for chat %s", chatID)
	}
	return nil
}

// RetryStream implements bridge.Commander. It restarts the stream from the
// persisted history, available after a failed or stopped stream.
func (l *Local) RetryStream(ctx context.Context, chatID, messageID string) error {
	l.mu.Lock()
	_, active := l.streams[chatID]
	l.mu.Unlock()
	if active {
		return fmt.Errorf("chat %s is already streaming", chatID)
	}

	record, err := l.chats.Load(chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	settings, err := l.workspaces.Load(l.cfg.Workspace)
	if err != nil {
		return fmt.Errorf("failed to load workspace settings: %w", err)
	}

	return l.startStream(chatID, record.Messages, settings)
}

// ListLLMConnections implements bridge.Commander.
func (l *Local) ListLLMConnections(ctx context.Context) ([]bridge.LLMConnection, error) {
	return l.connections.ListLLM()
}

// SaveLLMConnection implements bridge.Commander. The API key routes to the
// credential store; the sqlite row never sees it.
func (l *Local) SaveLLMConnection(ctx context.Context, conn bridge.LLMConnection) error {
	if conn.APIKey != "" {
		if err := l.cfg.CredentialStore.Set(conn.ID, conn.APIKey); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		if err := l.cfg.CredentialStore.Save(l.cfg.DataDir()); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
	}
	return l.connections.SaveLLM(conn)
}

// DeleteLLMConnection implements bridge.Commander.
func (l *Local) DeleteLLMConnection(ctx context.Context, id string) error {
	if err := l.cfg.CredentialStore.Delete(id); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	if err := l.cfg.CredentialStore.Save(l.cfg.DataDir()); err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return l.connections.DeleteLLM(id)
}

// TestLLMConnection implements bridge.Commander. It builds a transient
// provider and fetches its model list.
func (l *Local) TestLLMConnection(ctx context.Context, conn bridge.LLMConnection) ([]string, error) {
	p, err := provider.NewProvider(provider.Config{
		Type:    provider.MapProviderIDToType(conn.Provider),
		BaseURL: conn.BaseURL,
		APIKey:  l.resolveAPIKey(conn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ListMCPConnections implements bridge.Commander.
func (l *Local) ListMCPConnections(ctx context.Context) ([]bridge.MCPConnection, error) {
	return l.connections.ListMCP()
}

// SaveMCPConnection implements bridge.Commander. Stdio commands get their
// runtime path resolved at save time so later launches skip PATH lookups.
func (l *Local) SaveMCPConnection(ctx context.Context, conn bridge.MCPConnection) error {
	if conn.Type == mcp.TransportStdio && conn.RuntimePath == "" {
		if path, err := mcp.ResolveRuntimePath(conn.Command); err == nil {
			conn.RuntimePath = path
		}
	}
	return l.connections.SaveMCP(conn)
}

// DeleteMCPConnection implements bridge.Commander.
func (l *Local) DeleteMCPConnection(ctx context.Context, id string) error {
	if l.toolServers.Running(id) {
		if err := l.toolServers.Stop(ctx, id); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[Backend] Failed to stop connection %s before delete: %v", id, err)
		}
	}
	return l.connections.DeleteMCP(id)
}

// TestMCPConnection implements bridge.Commander.
func (l *Local) TestMCPConnection(ctx context.Context, conn bridge.MCPConnection) ([]bridge.ToolInfo, error) {
	tools, err := mcp.TestConnection(ctx, conn)
	if err != nil {
		return nil, err
	}

	infos := make([]bridge.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		infos = append(infos, bridge.ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return infos, nil
}

// WorkspaceSettings implements bridge.Commander.
func (l *Local) WorkspaceSettings(ctx context.Context, workspaceID string) (bridge.WorkspaceSettings, error) {
	return l.workspaces.Load(workspaceID)
}

// SaveWorkspaceSettings implements bridge.Commander.
func (l *Local) SaveWorkspaceSettings(ctx context.Context, settings bridge.WorkspaceSettings) error {
	return l.workspaces.Save(settings)
}

// ListAgents implements bridge.Commander. Mentionable agents are the
// enabled MCP connections.
func (l *Local) ListAgents(ctx context.Context) ([]bridge.AgentCard, error) {
	conns, err := l.connections.ListMCP()
	if err != nil {
		return nil, err
	}

	cards := make([]bridge.AgentCard, 0, len(conns))
	for _, conn := range conns {
		if !conn.Enabled {
			continue
		}
		cards = append(cards, bridge.AgentCard{
			ID:          conn.ID,
			Name:        conn.Name,
			Description: fmt.Sprintf("%s tool server", conn.Type),
		})
	}
	return cards, nil
}

// loadOrCreateRecord fetches a chat's record, creating one titled from the
// first message when the chat is new.
func (l *Local) loadOrCreateRecord(chatID string, first chat.Message) (*storage.ChatRecord, error) {
	record, err := l.chats.Load(chatID)
	if err == nil {
		return record, nil
	}

	return &storage.ChatRecord{
		ID:          chatID,
		Title:       storage.GenerateChatTitle(first.Content),
		WorkspaceID: l.cfg.Workspace,
	}, nil
}

// resolveAPIKey prefers the key carried on the connection (editor flow) and
// falls back to the credential store.
func (l *Local) resolveAPIKey(conn bridge.LLMConnection) string {
	if conn.APIKey != "" {
		return conn.APIKey
	}
	if l.cfg.CredentialStore == nil {
		return ""
	}
	return l.cfg.CredentialStore.Get(conn.ID)
}

var _ bridge.Commander = (*Local)(nil)
