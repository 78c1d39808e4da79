package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeTempResource stores inline content in a new "memu-*.txt" file under
// dir and returns its path. The file is left in place for the OS temp
// directory policy to reclaim.
func writeTempResource(dir, content string) (string, error) {
	f, err := os.CreateTemp(dir, "memu-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// resolveLocator makes local paths absolute. URLs are returned unchanged.
func resolveLocator(locator string) (string, error) {
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(locator, scheme) {
			return locator, nil
		}
	}
	abs, err := filepath.Abs(locator)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", locator, err)
	}
	return abs, nil
}
