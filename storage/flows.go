package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"parley/chat"
)

// FlowStorage loads workflow definitions from YAML files under
// <data>/flows. Each file holds one flow; the filename (without extension)
// is the fallback id.
type FlowStorage struct {
	flowsDir string
}

func NewFlowStorage(dataDir string) (*FlowStorage, error) {
	flowsDir := filepath.Join(dataDir, "flows")

	if err := os.MkdirAll(flowsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create flows directory: %w", err)
	}

	return &FlowStorage{
		flowsDir: flowsDir,
	}, nil
}

// List returns all parseable flows, sorted by name. Files that fail to
// parse are skipped; a debug build logs them at load in the caller.
func (fs *FlowStorage) List() ([]chat.Flow, error) {
	entries, err := os.ReadDir(fs.flowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows directory: %w", err)
	}

	var flows []chat.Flow
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		flow, err := fs.load(filepath.Join(fs.flowsDir, entry.Name()))
		if err != nil {
			continue // Skip unparseable files
		}
		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Name < flows[j].Name
	})

	return flows, nil
}

// Load returns the flow with the given id.
func (fs *FlowStorage) Load(id string) (chat.Flow, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(fs.flowsDir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return fs.load(path)
		}
	}
	return chat.Flow{}, fmt.Errorf("flow %s not found", id)
}

// Save writes a flow definition as YAML (0600).
func (fs *FlowStorage) Save(flow chat.Flow) error {
	if flow.ID == "" {
		return fmt.Errorf("flow id cannot be empty")
	}

	data, err := yaml.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	path := filepath.Join(fs.flowsDir, flow.ID+".yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write flow file: %w", err)
	}

	return nil
}

// Delete removes a flow definition.
func (fs *FlowStorage) Delete(id string) error {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(fs.flowsDir, id+ext)
		err := os.Remove(path)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete flow file: %w", err)
		}
	}
	return nil
}

func (fs *FlowStorage) load(path string) (chat.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Flow{}, fmt.Errorf("failed to read flow file: %w", err)
	}

	var flow chat.Flow
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return chat.Flow{}, fmt.Errorf("failed to parse flow file: %w", err)
	}

	if flow.ID == "" {
		base := filepath.Base(path)
		flow.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return flow, nil
}
