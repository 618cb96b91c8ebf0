package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type SecurityConfig struct {
	// Method is "plaintext" or "ssh_key"
	Method     string `toml:"method"`
	SSHKeyPath string `toml:"ssh_key_path,omitempty"`
}

type WorkspaceConfig struct {
	Default string `toml:"default"`
}

type UserConfig struct {
	Workspace           WorkspaceConfig `toml:"workspace"`
	Security            SecurityConfig  `toml:"security"`
	DefaultSystemPrompt string          `toml:"default_system_prompt,omitempty"`
	MarkdownDefault     bool            `toml:"markdown_default"`
}

type Config struct {
	DataDirectory       string
	Workspace           string
	DefaultSystemPrompt string
	MarkdownDefault     bool
	SecurityMethod      SecurityMethod
	SSHKeyPath          string
	CredentialStore     *CredentialStore
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if ws := os.Getenv("PARLEY_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
}

func CheckDebug() bool {
	debug := os.Getenv("PARLEY_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain sensitive debug info)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (PARLEY_DEBUG=%s) ===", os.Getenv("PARLEY_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory:   "~/.local/share/parley",
		Workspace:       "default",
		MarkdownDefault: true,
		SecurityMethod:  SecurityPlainText,
	}

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.DataDirectory = systemCfg.DataDirectory

	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.Workspace = userCfg.Workspace.Default
	cfg.DefaultSystemPrompt = userCfg.DefaultSystemPrompt
	cfg.MarkdownDefault = userCfg.MarkdownDefault
	cfg.SSHKeyPath = ExpandPath(userCfg.Security.SSHKeyPath)

	switch userCfg.Security.Method {
	case "", string(SecurityPlainText):
		cfg.SecurityMethod = SecurityPlainText
	case string(SecuritySSHKey):
		cfg.SecurityMethod = SecuritySSHKey
	default:
		return nil, fmt.Errorf("unknown security method in config: %s", userCfg.Security.Method)
	}

	cfg.applyEnvOverrides()

	if cfg.Workspace == "" {
		cfg.Workspace = "default"
	}

	cfg.CredentialStore = NewCredentialStore(cfg.SecurityMethod, cfg.SSHKeyPath)
	if cfg.SecurityMethod == SecurityPlainText {
		if err := cfg.CredentialStore.Load(dataDir); err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
	}
	// SSH-encrypted stores load after the passphrase prompt (see UnlockCredentials).

	return cfg, nil
}

// UnlockCredentials loads an SSH-encrypted credential store, using the given
// passphrase if the key itself is encrypted. Pass an empty string for
// unencrypted keys.
func (c *Config) UnlockCredentials(passphrase string) error {
	if c.CredentialStore == nil {
		c.CredentialStore = NewCredentialStore(c.SecurityMethod, c.SSHKeyPath)
	}
	c.CredentialStore.SetPassphrase(passphrase)
	return c.CredentialStore.Load(c.DataDir())
}
