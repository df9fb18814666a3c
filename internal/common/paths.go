// Package common holds the file system helpers shared by config and tests.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// CleanPath expands "~", rejects directory traversal and returns an absolute path
func CleanPath(path string) (string, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	cleaned := filepath.Clean(expanded)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains directory traversal")
	}

	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}

	return cleaned, nil
}
