package mcp

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Runtime describes an executable a stdio connection depends on (npx, python
// and the like).
type Runtime struct {
	Name      string
	Installed bool
	Version   string
	Path      string
}

// ResolveRuntimePath finds the absolute path of a stdio connection's command.
// The result persists on the connection record so servers keep launching when
// the app runs outside a login shell with the full PATH.
func ResolveRuntimePath(command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("empty command")
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command %q not found in PATH: %w", command, err)
	}
	return path, nil
}

// DetectRuntime probes for a named runtime and reports its version.
func DetectRuntime(name string) (*Runtime, error) {
	command := name
	versionArg := "--version"

	switch name {
	case "python":
		// Prefer python3 where both exist
		if _, err := exec.LookPath("python3"); err == nil {
			command = "python3"
		}
	case "go":
		versionArg = "version"
	}

	path, err := exec.LookPath(command)
	if err != nil {
		return &Runtime{Name: name}, fmt.Errorf("%s not found", name)
	}

	output, err := exec.Command(command, versionArg).Output()
	if err != nil {
		return &Runtime{Name: name, Path: path}, fmt.Errorf("failed to get %s version: %w", name, err)
	}

	return &Runtime{
		Name:      name,
		Installed: true,
		Version:   parseRuntimeVersion(name, string(output)),
		Path:      path,
	}, nil
}

// CheckRuntimeVersion verifies a runtime meets a minimum version.
func CheckRuntimeVersion(name, minVersion string) error {
	rt, err := DetectRuntime(name)
	if err != nil {
		return err
	}
	if !meetsMinVersion(rt.Version, minVersion) {
		return fmt.Errorf("%s version %s (requires >= %s)", name, rt.Version, minVersion)
	}
	return nil
}

var goVersionRegex = regexp.MustCompile(`go(\d+\.\d+(?:\.\d+)?)`)

func parseRuntimeVersion(name, output string) string {
	version := strings.TrimSpace(output)

	switch name {
	case "node":
		version = strings.TrimPrefix(version, "v")
	case "python":
		version = strings.TrimPrefix(version, "Python ")
	case "go":
		if matches := goVersionRegex.FindStringSubmatch(version); len(matches) > 1 {
			version = matches[1]
		}
	}

	return version
}

func meetsMinVersion(current, minimum string) bool {
	currentParts := parseVersion(current)
	minimumParts := parseVersion(minimum)

	for i := 0; i < 3; i++ {
		if currentParts[i] > minimumParts[i] {
			return true
		}
		if currentParts[i] < minimumParts[i] {
			return false
		}
	}

	return true
}

func parseVersion(version string) [3]int {
	parts := strings.Split(version, ".")
	var result [3]int

	for i := 0; i < 3 && i < len(parts); i++ {
		num, _ := strconv.Atoi(parts[i])
		result[i] = num
	}

	return result
}
