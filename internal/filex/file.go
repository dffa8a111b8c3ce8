package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory that will hold path, so that SQLite
// can create its database file there.
func EnsureParentDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return ".", nil
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}
