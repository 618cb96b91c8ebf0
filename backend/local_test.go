package backend

import (
	"context"
	"testing"
	"time"

	"parley/bridge"
	"parley/chat"
	"parley/config"
	"parley/provider"
	"parley/provider/testutil"
	"parley/storage"
)

func newTestBackend(t *testing.T) *Local {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		DataDirectory:   dir,
		Workspace:       "default",
		CredentialStore: config.NewCredentialStore(config.SecurityPlainText, ""),
	}

	chats, err := storage.NewChatStorage(dir)
	if err != nil {
		t.Fatalf("failed to create chat storage: %v", err)
	}
	connections, err := storage.NewConnectionStorage(dir)
	if err != nil {
		t.Fatalf("failed to create connection storage: %v", err)
	}
	t.Cleanup(func() { connections.Close() })

	workspaces, err := storage.NewWorkspaceStorage(dir)
	if err != nil {
		t.Fatalf("failed to create workspace storage: %v", err)
	}

	return New(cfg, chats, connections, workspaces)
}

func saveSettings(t *testing.T, l *Local, settings bridge.WorkspaceSettings) {
	t.Helper()
	if err := l.workspaces.Save(settings); err != nil {
		t.Fatalf("failed to save workspace settings: %v", err)
	}
}

func TestCreateMessagePersistsWithoutStreaming(t *testing.T) {
	l := newTestBackend(t)
	saveSettings(t, l, bridge.WorkspaceSettings{WorkspaceID: "default", StreamEnabled: false})

	msg := chat.NewMessage(chat.RoleUser, "hello there")
	if err := l.CreateMessage(context.Background(), "chat-1", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := l.chats.Load("chat-1")
	if err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if len(record.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(record.Messages))
	}
	if record.Messages[0].Content != "hello there" {
		t.Errorf("content mismatch: %q", record.Messages[0].Content)
	}
	if record.Title == "" {
		t.Error("expected a generated title")
	}
}

func TestCreateMessageStreams(t *testing.T) {
	l := newTestBackend(t)
	saveSettings(t, l, bridge.WorkspaceSettings{
		WorkspaceID:        "default",
		StreamEnabled:      true,
		MaxAgentIterations: 3,
		ToolPermission:     bridge.ToolPermissionConfig{DefaultPolicy: bridge.PolicyRequireApproval},
	})

	l.providerFactory = func(settings bridge.WorkspaceSettings) (provider.Provider, error) {
		return testutil.NewMockProvider("mock-model"), nil
	}

	msg := chat.NewMessage(chat.RoleUser, "say something")
	if err := l.CreateMessage(context.Background(), "chat-1", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var content string
	var completed bool
	timeout := time.After(5 * time.Second)

	for !completed {
		select {
		case ev := <-l.Events():
			switch e := ev.(type) {
			case chat.TokenDelta:
				content += e.Delta
			case chat.Completed:
				completed = true
				if e.Usage == nil {
					t.Error("expected usage on completion")
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream completion")
		}
	}

	if content != "This is a mock response." {
		t.Errorf("streamed content mismatch: %q", content)
	}

	// The assistant message lands in the record once the stream finishes
	deadline := time.Now().Add(2 * time.Second)
	for {
		record, err := l.chats.Load("chat-1")
		if err != nil {
			t.Fatalf("failed to load record: %v", err)
		}
		if len(record.Messages) == 2 {
			if record.Messages[1].Role != chat.RoleAssistant {
				t.Errorf("expected assistant message, got %s", record.Messages[1].Role)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("assistant message never persisted; have %d messages", len(record.Messages))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateMessage(t *testing.T) {
	l := newTestBackend(t)
	saveSettings(t, l, bridge.WorkspaceSettings{WorkspaceID: "default", StreamEnabled: false})

	msg := chat.NewMessage(chat.RoleUser, "original")
	if err := l.CreateMessage(context.Background(), "chat-1", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg.Content = "edited"
	if err := l.UpdateMessage(context.Background(), "chat-1", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, _ := l.chats.Load("chat-1")
	if record.Messages[0].Content != "edited" {
		t.Errorf("got %q, want %q", record.Messages[0].Content, "edited")
	}

	unknown := chat.NewMessage(chat.RoleUser, "nope")
	if err := l.UpdateMessage(context.Background(), "chat-1", unknown); err == nil {
		t.Error("expected error for unknown message id")
	}
}

func TestStopStreamWithoutActiveStream(t *testing.T) {
	l := newTestBackend(t)
	if err := l.StopStream(context.Background(), "chat-1"); err == nil {
		t.Error("expected error when no stream is active")
	}
}

func TestRespondToToolPermissionUnknownMessage(t *testing.T) {
	l := newTestBackend(t)
	err := l.RespondToToolPermission(context.Background(), "missing", true, []string{"call-1"})
	if err == nil {
		t.Error("expected error for unknown pending permission")
	}
}

func TestWorkspaceSettingsRoundTrip(t *testing.T) {
	l := newTestBackend(t)

	settings := bridge.WorkspaceSettings{
		WorkspaceID:        "default",
		SystemMessage:      "be brief",
		StreamEnabled:      true,
		MaxAgentIterations: 5,
		ToolPermission:     bridge.ToolPermissionConfig{DefaultPolicy: bridge.PolicyAllow, TimeoutSeconds: 30},
	}

	if err := l.SaveWorkspaceSettings(context.Background(), settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := l.WorkspaceSettings(context.Background(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.SystemMessage != "be brief" {
		t.Errorf("system message mismatch: %q", loaded.SystemMessage)
	}
	if loaded.ToolPermission.DefaultPolicy != bridge.PolicyAllow {
		t.Errorf("policy mismatch: %q", loaded.ToolPermission.DefaultPolicy)
	}
}

func TestListAgentsFromMCPConnections(t *testing.T) {
	l := newTestBackend(t)

	conns := []bridge.MCPConnection{
		{ID: "files", Name: "Filesystem", Type: "stdio", Command: "mcp-fs", Enabled: true},
		{ID: "web", Name: "Web", Type: "sse", URL: "https://example.com/sse", Enabled: false},
	}
	for _, conn := range conns {
		if err := l.connections.SaveMCP(conn); err != nil {
			t.Fatalf("failed to save connection: %v", err)
		}
	}

	cards, err := l.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	if cards[0].ID != "files" {
		t.Errorf("card id mismatch: %q", cards[0].ID)
	}
}

func TestFinalizeUsage(t *testing.T) {
	t.Run("provider reported", func(t *testing.T) {
		usage := finalizeUsage(&provider.Usage{PromptTokens: 100, CompletionTokens: 50}, nil, "", "", 2*time.Second)
		if usage.TotalTokens != 150 {
			t.Errorf("total: got %d, want 150", usage.TotalTokens)
		}
		if usage.TokensPerSecond != 25 {
			t.Errorf("tps: got %v, want 25", usage.TokensPerSecond)
		}
	})

	t.Run("estimated when unreported", func(t *testing.T) {
		history := []chat.Message{{Role: chat.RoleUser, Content: "a reasonably sized prompt message"}}
		usage := finalizeUsage(nil, history, "some completion text here", "", time.Second)
		if usage.PromptTokens == 0 {
			t.Error("expected estimated prompt tokens")
		}
		if usage.CompletionTokens == 0 {
			t.Error("expected estimated completion tokens")
		}
	})
}

func TestWithSystemMessage(t *testing.T) {
	history := []chat.Message{{Role: chat.RoleUser, Content: "hi"}}

	prefixed := withSystemMessage(history, "be kind")
	if len(prefixed) != 2 || prefixed[0].Role != chat.RoleSystem {
		t.Fatalf("expected prepended system message, got %+v", prefixed)
	}

	// Already has one
	again := withSystemMessage(prefixed, "be kind")
	if len(again) != 2 {
		t.Errorf("expected no double prepend, got %d messages", len(again))
	}

	// Empty system message is a no-op
	if got := withSystemMessage(history, ""); len(got) != 1 {
		t.Errorf("expected unchanged history, got %d messages", len(got))
	}
}
