package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands environment variables in path and replaces a leading
// "~" with the user's home directory. Empty paths stay empty.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, path[1:]), nil
}
