package storage

import (
	"os"
	"path/filepath"
	"testing"

	"parley/chat"
)

func TestFlowStorageRoundTrip(t *testing.T) {
	fs, err := NewFlowStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFlowStorage failed: %v", err)
	}

	flow := chat.Flow{
		ID:          "review",
		Name:        "Code review",
		Description: "Review a diff step by step",
		Steps: []chat.FlowStep{
			{Name: "summarize", Prompt: "Summarize the change"},
			{Name: "critique", Prompt: "List issues", Tool: "fs_read"},
		},
		Variables: map[string]string{"branch": "main"},
	}

	if err := fs.Save(flow); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := fs.Load("review")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "Code review" {
		t.Errorf("expected name round trip, got %q", loaded.Name)
	}
	if len(loaded.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(loaded.Steps))
	}
	if loaded.Steps[1].Tool != "fs_read" {
		t.Errorf("expected step tool round trip, got %q", loaded.Steps[1].Tool)
	}
}

func TestFlowStorageIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFlowStorage(dir)
	if err != nil {
		t.Fatalf("NewFlowStorage failed: %v", err)
	}

	// Hand-written flow file without an id field
	content := "name: Triage\nsteps:\n  - name: classify\n    prompt: Classify the issue\n"
	path := filepath.Join(dir, "flows", "triage.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	flow, err := fs.Load("triage")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if flow.ID != "triage" {
		t.Errorf("expected id from filename, got %q", flow.ID)
	}
}

func TestFlowStorageListSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFlowStorage(dir)
	if err != nil {
		t.Fatalf("NewFlowStorage failed: %v", err)
	}

	if err := fs.Save(chat.Flow{ID: "good", Name: "Good flow"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	bad := filepath.Join(dir, "flows", "bad.yaml")
	if err := os.WriteFile(bad, []byte("steps: [unclosed"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	flows, err := fs.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(flows) != 1 {
		t.Fatalf("expected 1 flow (bad file skipped), got %d", len(flows))
	}
	if flows[0].ID != "good" {
		t.Errorf("expected 'good', got %q", flows[0].ID)
	}
}

func TestFlowStorageLoadMissing(t *testing.T) {
	fs, err := NewFlowStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFlowStorage failed: %v", err)
	}

	if _, err := fs.Load("nope"); err == nil {
		t.Error("expected error for missing flow")
	}
}
