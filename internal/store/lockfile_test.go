package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func commit(c byte) string {
	return strings.Repeat(string(c), 40)
}

func TestLoadLockMissingFileReturnsEmptyLock(t *testing.T) {
	lock, err := LoadLock(filepath.Join(t.TempDir(), "plugins.lock.json"))
	if err != nil {
		t.Fatalf("load lock failed: %v", err)
	}
	if lock.Version != LockVersion || len(lock.Plugins) != 0 {
		t.Fatalf("expected empty lock, got %+v", lock)
	}
}

func TestSaveAndLoadLockRoundTrip(t *testing.T) {
	now := time.Now().UTC().Round(time.Second)
	lock := Lockfile{
		Version: 99,
		Plugins: []LockEntry{
			{ID: "zeta", Source: "https://example.com/z.git", Ref: "main", ResolvedCommit: commit('b'), ResolvedAt: now},
			{ID: "alpha", Source: "https://example.com/a.git", ResolvedCommit: commit('a'), ResolvedAt: now},
		},
	}
	for _, name := range []string{"plugins.lock.json", "plugins.lock.toml", "plugins.lock.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := SaveLock(path, lock); err != nil {
				t.Fatalf("save lock failed: %v", err)
			}
			loaded, err := LoadLock(path)
			if err != nil {
				t.Fatalf("load lock failed: %v", err)
			}
			if loaded.Version != LockVersion {
				t.Fatalf("expected version %d, got %d", LockVersion, loaded.Version)
			}
			if len(loaded.Plugins) != 2 || loaded.Plugins[0].ID != "alpha" || loaded.Plugins[1].ID != "zeta" {
				t.Fatalf("expected sorted lock entries, got %+v", loaded.Plugins)
			}
			if !loaded.Plugins[1].ResolvedAt.Equal(now) || loaded.Plugins[1].ResolvedCommit != commit('b') || loaded.Plugins[1].Ref != "main" {
				t.Fatalf("entry not preserved: %+v", loaded.Plugins[1])
			}
		})
	}
	if lock.Plugins[0].ID != "zeta" {
		t.Fatalf("save must not reorder the caller's slice")
	}
}

func TestLoadLockRejectsBadCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.lock.json")
	doc := `{"version": 1, "plugins": [{"id": "a", "source": "x", "resolvedCommit": "HEAD", "resolvedAt": "2026-01-01T00:00:00Z"}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := LoadLock(path)
	if err == nil || !strings.Contains(err.Error(), "DOC_LOCK_SCHEMA") {
		t.Fatalf("expected DOC_LOCK_SCHEMA error, got %v", err)
	}
}

func TestLoadLockInvalidJSONReturnsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.lock.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := LoadLock(path)
	if err == nil || !strings.Contains(err.Error(), "DOC_LOCK_PARSE") {
		t.Fatalf("expected DOC_LOCK_PARSE error, got %v", err)
	}
}

func TestPruneLockDropsUndesiredEntries(t *testing.T) {
	lock := Lockfile{Plugins: []LockEntry{
		{ID: "keep", ResolvedCommit: commit('a')},
		{ID: "stale", ResolvedCommit: commit('b')},
		{ID: "also_stale", ResolvedCommit: commit('c')},
	}}
	desired := Manifest{Plugins: []PluginEntry{{ID: "keep", Source: "x"}, {ID: "new", Source: "y"}}}
	pruned := PruneLock(&lock, desired)
	if strings.Join(pruned, ",") != "stale,also_stale" {
		t.Fatalf("unexpected pruned ids %v", pruned)
	}
	if len(lock.Plugins) != 1 || lock.Plugins[0].ID != "keep" {
		t.Fatalf("unexpected remaining entries %+v", lock.Plugins)
	}
	if _, ok := FindLock(lock, "stale"); ok {
		t.Fatalf("stale entry still findable")
	}
}

func TestUpsertAndRemoveLock(t *testing.T) {
	var lock Lockfile
	UpsertLock(&lock, LockEntry{ID: "a", ResolvedCommit: commit('a')})
	UpsertLock(&lock, LockEntry{ID: "a", ResolvedCommit: commit('b')})
	got, ok := FindLock(lock, "a")
	if !ok || got.ResolvedCommit != commit('b') || len(lock.Plugins) != 1 {
		t.Fatalf("upsert did not replace entry: %+v", lock.Plugins)
	}
	if !RemoveLock(&lock, "a") || RemoveLock(&lock, "a") {
		t.Fatalf("remove should succeed exactly once")
	}
}

func TestSaveLockSkipsIdenticalDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.lock.json")
	lock := Lockfile{Plugins: []LockEntry{{ID: "clock", Source: "https://example.com/c.git", ResolvedCommit: commit('c'), ResolvedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}}}
	if err := SaveLock(path, lock); err != nil {
		t.Fatalf("save lock failed: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := SaveLock(path, lock); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !os.SameFile(before, after) {
		t.Fatalf("an unchanged lock must not be rewritten")
	}

	lock.Plugins[0].ResolvedCommit = commit('d')
	if err := SaveLock(path, lock); err != nil {
		t.Fatalf("third save failed: %v", err)
	}
	loaded, err := LoadLock(path)
	if err != nil || loaded.Plugins[0].ResolvedCommit != commit('d') {
		t.Fatalf("changed lock not written: %+v, %v", loaded, err)
	}
}
