package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"parley/bridge"
	"parley/chat"
)

// WorkspaceStorage persists per-workspace settings as single JSON units.
type WorkspaceStorage struct {
	workspacesDir string
}

func NewWorkspaceStorage(dataDir string) (*WorkspaceStorage, error) {
	workspacesDir := filepath.Join(dataDir, "workspaces")

	if err := os.MkdirAll(workspacesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create workspaces directory: %w", err)
	}

	return &WorkspaceStorage{
		workspacesDir: workspacesDir,
	}, nil
}

// DefaultWorkspaceSettings returns the settings a fresh workspace starts with.
func DefaultWorkspaceSettings(workspaceID string) bridge.WorkspaceSettings {
	return bridge.WorkspaceSettings{
		WorkspaceID:        workspaceID,
		StreamEnabled:      true,
		MaxAgentIterations: 10,
		ToolPermission: bridge.ToolPermissionConfig{
			DefaultPolicy:  bridge.PolicyRequireApproval,
			TimeoutSeconds: int(chat.DefaultPermissionTimeout.Seconds()),
		},
	}
}

// Load returns the settings for a workspace, falling back to defaults when
// no record exists yet.
func (ws *WorkspaceStorage) Load(workspaceID string) (bridge.WorkspaceSettings, error) {
	path := ws.path(workspaceID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultWorkspaceSettings(workspaceID), nil
	}
	if err != nil {
		return bridge.WorkspaceSettings{}, fmt.Errorf("failed to read workspace settings: %w", err)
	}

	var settings bridge.WorkspaceSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return bridge.WorkspaceSettings{}, fmt.Errorf("failed to unmarshal workspace settings: %w", err)
	}

	settings.WorkspaceID = workspaceID
	if settings.ToolPermission.TimeoutSeconds <= 0 {
		settings.ToolPermission.TimeoutSeconds = int(chat.DefaultPermissionTimeout.Seconds())
	}
	if settings.ToolPermission.DefaultPolicy == "" {
		settings.ToolPermission.DefaultPolicy = bridge.PolicyRequireApproval
	}
	if settings.MaxAgentIterations <= 0 {
		settings.MaxAgentIterations = 10
	}

	return settings, nil
}

// Save writes a workspace's settings as a unit.
func (ws *WorkspaceStorage) Save(settings bridge.WorkspaceSettings) error {
	if settings.WorkspaceID == "" {
		return fmt.Errorf("workspace id cannot be empty")
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace settings: %w", err)
	}

	// 0600 - settings may contain system prompts
	if err := os.WriteFile(ws.path(settings.WorkspaceID), data, 0600); err != nil {
		return fmt.Errorf("failed to write workspace settings: %w", err)
	}

	return nil
}

// List returns the ids of all workspaces with stored settings.
func (ws *WorkspaceStorage) List() ([]string, error) {
	entries, err := os.ReadDir(ws.workspacesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspaces directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}

	return ids, nil
}

func (ws *WorkspaceStorage) path(workspaceID string) string {
	return filepath.Join(ws.workspacesDir, workspaceID+".json")
}
