package store

import "path/filepath"

func StatePath(root string) string {
	return filepath.Join(root, "state.toml")
}

// StateLockPath guards read-modify-write cycles on state.toml across
// processes.
func StateLockPath(root string) string {
	return filepath.Join(root, "state.lock")
}

func SnapshotRoot(root string) string {
	return filepath.Join(root, "snapshots")
}

func LocksRoot(root string) string {
	return filepath.Join(root, "locks")
}

func LockPath(root, plugin string) string {
	return filepath.Join(LocksRoot(root), plugin+".lock")
}

func AuditPath(root string) string {
	return filepath.Join(root, "audit.log")
}

// StagingRoot lives inside the plugins root so staged clones and backups can
// be renamed into place without crossing filesystems.
func StagingRoot(pluginsDir string) string {
	return filepath.Join(pluginsDir, ".boardpm-staging")
}
