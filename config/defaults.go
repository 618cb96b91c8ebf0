package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/parley",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Workspace: WorkspaceConfig{
			Default: "default",
		},
		Security: SecurityConfig{
			Method: string(SecurityPlainText),
		},
		MarkdownDefault: true,
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Parley System Configuration
# Location: ~/.config/parley/settings.toml
# This file uses TOML format: https://toml.io

# Directory where chats, connections and user config are stored
data_directory = "~/.local/share/parley"
`
}

func GenerateUserConfigTemplate() string {
	return `# Parley User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[workspace]
# Workspace selected at startup (override per run with PARLEY_WORKSPACE)
default = "default"

[security]
# Credential storage method: "plaintext" or "ssh_key"
# With ssh_key, API keys are encrypted with a key derived from an SSH
# key signature (AES-256-GCM). Generate a dedicated key with:
#   ssh-keygen -t ed25519 -f ~/.ssh/parley_ed25519
method = "plaintext"

# Path to the SSH private key used for encryption (ssh_key method only)
# ssh_key_path = "~/.ssh/parley_ed25519"

# Default system prompt for new chats (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

# Render assistant messages as markdown by default
markdown_default = true
`
}
