package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SafeJoin joins rel onto base and rejects results that escape base.
func SafeJoin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("FS_PATH_TRAVERSAL: absolute path not allowed")
	}
	cleanRel := filepath.Clean(rel)
	if cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("FS_PATH_TRAVERSAL: path escapes base")
	}
	joined := filepath.Join(base, cleanRel)
	baseClean := filepath.Clean(base)
	joinedClean := filepath.Clean(joined)
	if joinedClean != baseClean {
		prefix := baseClean + string(filepath.Separator)
		if !strings.HasPrefix(joinedClean, prefix) {
			return "", fmt.Errorf("FS_PATH_TRAVERSAL: path escapes base")
		}
	}
	return joinedClean, nil
}

// ValidateNoSymlinkPath checks each path component of target under base and
// denies traversal through symlinked directories.
func ValidateNoSymlinkPath(base, target string) error {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return fmt.Errorf("FS_PATH_TRAVERSAL: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("FS_PATH_TRAVERSAL: path escapes base")
	}
	current := filepath.Clean(base)
	parts := strings.Split(rel, string(filepath.Separator))
	// The last component may itself be a symlink; only its parents matter.
	for _, p := range parts[:len(parts)-1] {
		if p == "." || p == "" {
			continue
		}
		current = filepath.Join(current, p)
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("FS_SYMLINK_ESCAPE: symlink component %q is not allowed", current)
		}
	}
	return nil
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
