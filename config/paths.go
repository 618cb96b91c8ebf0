package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// GetConfigDir returns the platform-specific configuration directory
// Linux/Mac: ~/.config/parley
// Windows: C:\Users\username\.config\parley
func GetConfigDir() string {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		return filepath.Join(userProfile, ".config", "parley")
	}

	home := os.Getenv("HOME")
	return filepath.Join(home, ".config", "parley")
}

// GetDefaultDataDir returns the platform-specific default data directory
// Linux/Mac: ~/.local/share/parley
// Windows: C:\Users\username\AppData\Local\parley
func GetDefaultDataDir() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			localAppData = filepath.Join(userProfile, "AppData", "Local")
		}
		return filepath.Join(localAppData, "parley")
	}

	home := os.Getenv("HOME")
	return filepath.Join(home, ".local", "share", "parley")
}

// GetCacheDir returns the platform-specific cache directory.
// Temporary files live here (never synced to cloud storage).
// Linux/Mac: ~/.cache/parley
// Windows: C:\Users\username\AppData\Local\parley
func GetCacheDir() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			localAppData = filepath.Join(userProfile, "AppData", "Local")
		}
		return filepath.Join(localAppData, "parley")
	}

	home := os.Getenv("HOME")
	return filepath.Join(home, ".cache", "parley")
}

// GetSettingsFilePath returns the path to settings.toml
func GetSettingsFilePath() string {
	return filepath.Join(GetConfigDir(), "settings.toml")
}

// GetHomeDir returns the user's home directory across platforms
// Windows: %USERPROFILE% (C:\Users\username)
// Linux/Mac: $HOME (/home/username)
func GetHomeDir() string {
	if runtime.GOOS == "windows" {
		home := os.Getenv("USERPROFILE")
		if home == "" {
			// Fallback: HOMEDRIVE + HOMEPATH
			home = os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
		}
		if home == "" {
			// Last resort fallback
			home = "C:\\"
		}
		return home
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/"
	}
	return home
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~
	if strings.HasPrefix(path, "~/") {
		home := GetHomeDir()
		path = filepath.Join(home, path[2:])
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	// Clean the path
	return filepath.Clean(path)
}

// EnsureDir creates a directory if it doesn't exist (0700 - user-only access)
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NormalizeDataDirectory normalizes a data directory path by ensuring it ends
// with /parley or uses an existing parley/ subfolder if present
func NormalizeDataDirectory(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("data directory path cannot be empty")
	}

	expanded := ExpandPath(input)

	// Case 1: Path already ends with /parley - use it directly
	if filepath.Base(expanded) == "parley" {
		return expanded, nil
	}

	// Case 2: parley/ subfolder exists - use it
	parleyPath := filepath.Join(expanded, "parley")
	if _, err := os.Stat(parleyPath); err == nil {
		return parleyPath, nil
	}

	// Case 3: No parley/ subfolder - it will be created later
	return parleyPath, nil
}

// GetTempDir returns the path to the secure temp directory.
// Always under the cache directory, never the data directory.
func GetTempDir() string {
	return filepath.Join(GetCacheDir(), "tmp")
}

// EnsureDataDirPermissions ensures data directory has 0700 permissions
func EnsureDataDirPermissions(dataDir string) error {
	info, err := os.Stat(dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat data directory: %w", err)
	}

	if info.Mode().Perm() != 0700 {
		if err := os.Chmod(dataDir, 0700); err != nil {
			return fmt.Errorf("failed to chmod data directory: %w", err)
		}
	}

	return nil
}
