package store

import (
	"errors"
	"os"
	"sort"

	"boardpm/internal/errs"
)

// LoadLock reads the lock file. A missing file is an empty lock.
func LoadLock(path string) (Lockfile, error) {
	var lock Lockfile
	if err := loadDocument(path, lockSchemaURL, "DOC_LOCK", &lock); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Lockfile{Version: LockVersion}, nil
		}
		return Lockfile{}, err
	}
	if lock.Version == 0 {
		lock.Version = LockVersion
	}
	if lock.Version != LockVersion {
		return Lockfile{}, errs.New(errs.KindConfiguration, "DOC_LOCK_VERSION", "%s: unsupported version %d", path, lock.Version)
	}
	seen := map[string]struct{}{}
	for _, e := range lock.Plugins {
		if !ValidID(e.ID) {
			return Lockfile{}, errs.New(errs.KindConfiguration, "DOC_LOCK_SCHEMA", "%s: invalid plugin id %q", path, e.ID)
		}
		if _, ok := seen[e.ID]; ok {
			return Lockfile{}, errs.New(errs.KindConfiguration, "DOC_LOCK_SCHEMA", "%s: duplicate plugin id %q", path, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return lock, nil
}

// SaveLock writes the lock file with entries sorted by id.
func SaveLock(path string, lock Lockfile) error {
	lock.Version = LockVersion
	plugins := make([]LockEntry, len(lock.Plugins))
	copy(plugins, lock.Plugins)
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})
	for i := range plugins {
		plugins[i].ResolvedAt = plugins[i].ResolvedAt.UTC()
	}
	lock.Plugins = plugins
	return saveDocument(path, "DOC_LOCK", lock)
}

func UpsertLock(lock *Lockfile, rec LockEntry) {
	for i := range lock.Plugins {
		if lock.Plugins[i].ID == rec.ID {
			lock.Plugins[i] = rec
			return
		}
	}
	lock.Plugins = append(lock.Plugins, rec)
}

func RemoveLock(lock *Lockfile, id string) bool {
	for i := range lock.Plugins {
		if lock.Plugins[i].ID == id {
			lock.Plugins = append(lock.Plugins[:i], lock.Plugins[i+1:]...)
			return true
		}
	}
	return false
}

func FindLock(lock Lockfile, id string) (LockEntry, bool) {
	for _, e := range lock.Plugins {
		if e.ID == id {
			return e, true
		}
	}
	return LockEntry{}, false
}

// PruneLock drops entries whose id is not desired and returns the dropped ids.
func PruneLock(lock *Lockfile, desired Manifest) []string {
	want := make(map[string]struct{}, len(desired.Plugins))
	for _, p := range desired.Plugins {
		want[p.ID] = struct{}{}
	}
	var pruned []string
	kept := lock.Plugins[:0]
	for _, e := range lock.Plugins {
		if _, ok := want[e.ID]; ok {
			kept = append(kept, e)
			continue
		}
		pruned = append(pruned, e.ID)
	}
	lock.Plugins = kept
	return pruned
}
