package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.kbindex/logs, or a directory under the system
// temp dir when the home directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbindex", "logs")
	}
	return filepath.Join(home, ".kbindex", "logs")
}

// DefaultLogPath returns the log file written with --debug.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "kbindex.log")
}

// FindLogFile returns explicit when it exists, otherwise DefaultLogPath
// when that exists.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found at %s\nrun a command with --debug to create it", path)
	}
	return path, nil
}
