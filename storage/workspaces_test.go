package storage

import (
	"testing"

	"parley/bridge"
)

func TestWorkspaceStorageDefaultsWhenMissing(t *testing.T) {
	ws, err := NewWorkspaceStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspaceStorage failed: %v", err)
	}

	settings, err := ws.Load("fresh")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.WorkspaceID != "fresh" {
		t.Errorf("expected workspace id 'fresh', got %q", settings.WorkspaceID)
	}
	if !settings.StreamEnabled {
		t.Error("expected streaming enabled by default")
	}
	if settings.ToolPermission.DefaultPolicy != bridge.PolicyRequireApproval {
		t.Errorf("expected default policy require_approval, got %q", settings.ToolPermission.DefaultPolicy)
	}
	if settings.ToolPermission.TimeoutSeconds != 60 {
		t.Errorf("expected 60s permission timeout, got %d", settings.ToolPermission.TimeoutSeconds)
	}
	if settings.MaxAgentIterations != 10 {
		t.Errorf("expected 10 max agent iterations, got %d", settings.MaxAgentIterations)
	}
}

func TestWorkspaceStorageRoundTrip(t *testing.T) {
	ws, err := NewWorkspaceStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspaceStorage failed: %v", err)
	}

	settings := DefaultWorkspaceSettings("team")
	settings.SystemMessage = "You are terse."
	settings.LLMConnectionID = "conn-1"
	settings.ToolPermission.Tools = map[string]string{
		"fs_delete": bridge.PolicyBlock,
	}

	if err := ws.Save(settings); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := ws.Load("team")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SystemMessage != "You are terse." {
		t.Errorf("expected system message round trip, got %q", loaded.SystemMessage)
	}
	if loaded.LLMConnectionID != "conn-1" {
		t.Errorf("expected llm connection id round trip, got %q", loaded.LLMConnectionID)
	}
	if loaded.ToolPermission.Tools["fs_delete"] != bridge.PolicyBlock {
		t.Errorf("expected per-tool policy round trip, got %v", loaded.ToolPermission.Tools)
	}
}

func TestWorkspaceStorageSaveRequiresID(t *testing.T) {
	ws, err := NewWorkspaceStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspaceStorage failed: %v", err)
	}

	if err := ws.Save(bridge.WorkspaceSettings{}); err == nil {
		t.Error("expected error for empty workspace id")
	}
}

func TestWorkspaceStorageBackfillsZeroTimeout(t *testing.T) {
	ws, err := NewWorkspaceStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspaceStorage failed: %v", err)
	}

	// A record written before timeout/policy fields existed
	if err := ws.Save(bridge.WorkspaceSettings{WorkspaceID: "old"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := ws.Load("old")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ToolPermission.TimeoutSeconds != 60 {
		t.Errorf("expected timeout backfilled to 60, got %d", loaded.ToolPermission.TimeoutSeconds)
	}
	if loaded.ToolPermission.DefaultPolicy != bridge.PolicyRequireApproval {
		t.Errorf("expected policy backfilled, got %q", loaded.ToolPermission.DefaultPolicy)
	}
}
