package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists reports whether something is present at path. Errors other than
// "not exist" (e.g. permission denied) count as present so callers never
// overwrite a path they cannot inspect.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// StagingPath returns a unique sibling of dest suitable for staging content
// that is later moved into place with AtomicReplaceDir.
func StagingPath(dest string) string {
	clean := filepath.Clean(dest)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".partial-"+uuid.NewString())
}

// AtomicReplaceDir moves the staged directory into place at dest. The
// destination must not exist; a rename never merges directories.
func AtomicReplaceDir(staged, dest string) error {
	if PathExists(dest) {
		return fmt.Errorf("destination already exists: %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dest)), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", staged, dest, err)
	}
	return nil
}
