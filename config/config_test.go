package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "tilde expands to home",
			path: "~/data",
			want: filepath.Join(home, "data"),
		},
		{
			name: "absolute path unchanged",
			path: "/var/lib/parley",
			want: "/var/lib/parley",
		},
		{
			name: "empty stays empty",
			path: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPath(tt.path); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadUserConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadUserConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace.Default != "default" {
		t.Errorf("default workspace = %q, want default", cfg.Workspace.Default)
	}
	if !cfg.MarkdownDefault {
		t.Error("markdown should default on")
	}

	// The template file must exist with owner-only perms.
	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config.toml perms = %o, want 0600", info.Mode().Perm())
	}
}

func TestSaveUserConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	saved := DefaultUserConfig()
	saved.Workspace.Default = "research"
	saved.DefaultSystemPrompt = "Be brief."
	saved.Security.Method = string(SecuritySSHKey)
	saved.Security.SSHKeyPath = "~/.ssh/parley_ed25519"

	if err := SaveUserConfig(saved, dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadUserConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Workspace.Default != "research" {
		t.Errorf("workspace = %q, want research", loaded.Workspace.Default)
	}
	if loaded.DefaultSystemPrompt != "Be brief." {
		t.Errorf("system prompt = %q", loaded.DefaultSystemPrompt)
	}
	if loaded.Security.Method != string(SecuritySSHKey) {
		t.Errorf("security method = %q", loaded.Security.Method)
	}
}

func TestCredentialStorePlaintext(t *testing.T) {
	dir := t.TempDir()

	store := NewCredentialStore(SecurityPlainText, "")
	if err := store.Load(dir); err != nil {
		t.Fatal(err)
	}

	if err := store.Set("conn-1", "sk-test-key"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(dir); err != nil {
		t.Fatal(err)
	}

	reloaded := NewCredentialStore(SecurityPlainText, "")
	if err := reloaded.Load(dir); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get("conn-1"); got != "sk-test-key" {
		t.Errorf("Get = %q, want sk-test-key", got)
	}
	if got := reloaded.Get("missing"); got != "" {
		t.Errorf("missing connection should yield empty key, got %q", got)
	}

	if err := reloaded.Delete("conn-1"); err != nil {
		t.Fatal(err)
	}
	if err := reloaded.Save(dir); err != nil {
		t.Fatal(err)
	}
	again := NewCredentialStore(SecurityPlainText, "")
	if err := again.Load(dir); err != nil {
		t.Fatal(err)
	}
	if got := again.Get("conn-1"); got != "" {
		t.Errorf("deleted key should be gone, got %q", got)
	}
}

func TestGenerateTemplatesMentionKeys(t *testing.T) {
	sys := GenerateSystemConfigTemplate()
	if !strings.Contains(sys, "data_directory") {
		t.Error("system template missing data_directory")
	}
	user := GenerateUserConfigTemplate()
	for _, key := range []string{"[workspace]", "[security]", "markdown_default"} {
		if !strings.Contains(user, key) {
			t.Errorf("user template missing %s", key)
		}
	}
}
