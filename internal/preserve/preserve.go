// Package preserve captures user-owned files out of a plugin working copy
// before it is replaced and puts them back afterwards.
package preserve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/opencontainers/go-digest"

	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
)

const indexFile = "index.json"

// Spec is the ordered pattern list applied to one plugin.
type Spec struct {
	Patterns []string `json:"patterns"`
	// Declared is true when the plugin supplied its own patterns.
	Declared bool `json:"declared"`
}

// SpecFor picks the plugin's declared patterns when it has any, else the
// defaults. The two lists are never merged.
func SpecFor(declared, defaults []string) Spec {
	if len(declared) > 0 {
		return Spec{Patterns: append([]string(nil), declared...), Declared: true}
	}
	return Spec{Patterns: append([]string(nil), defaults...)}
}

// Entry is one captured filesystem object, relative to the plugin dir.
type Entry struct {
	Path   string        `json:"path"`
	Mode   fs.FileMode   `json:"mode"`
	Dir    bool          `json:"dir,omitempty"`
	Link   string        `json:"link,omitempty"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// Snapshot is a copy of preserved files held under the snapshot root until
// it is restored and discarded.
type Snapshot struct {
	Dir      string    `json:"-"`
	Plugin   string    `json:"plugin"`
	TakenAt  time.Time `json:"taken_at"`
	Patterns []string  `json:"patterns"`
	Entries  []Entry   `json:"entries"`
}

// Engine owns the snapshot root.
type Engine struct {
	root string
}

func New(root string) *Engine {
	return &Engine{root: root}
}

// Capture copies every path under pluginDir matching patterns, plus the
// extra relative paths, into a new snapshot. A matched directory is taken
// with its whole subtree. .git is never captured. A missing pluginDir yields
// an empty snapshot with no backing directory.
func (e *Engine) Capture(pluginDir string, patterns, extra []string) (*Snapshot, error) {
	plugin := filepath.Base(pluginDir)
	matchers, err := Compile(patterns)
	if err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_PATTERN", err)
	}
	snap := &Snapshot{Plugin: plugin, TakenAt: time.Now().UTC(), Patterns: patterns}
	if ok, err := fsutil.Exists(pluginDir); err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	} else if !ok {
		return snap, nil
	}

	selected := map[string]struct{}{}
	err = filepath.WalkDir(pluginDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(pluginDir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !Match(matchers, rel) {
			return nil
		}
		selected[rel] = struct{}{}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	}
	for _, rel := range extra {
		rel = filepath.ToSlash(filepath.Clean(rel))
		if rel == "." || isGitPath(rel) {
			continue
		}
		if _, err := os.Lstat(filepath.Join(pluginDir, filepath.FromSlash(rel))); err == nil {
			selected[rel] = struct{}{}
		}
	}
	if len(selected) == 0 {
		return snap, nil
	}

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	}
	dir, err := os.MkdirTemp(e.root, fmt.Sprintf("%s-%d-", plugin, time.Now().UnixNano()))
	if err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	}
	snap.Dir = dir
	seen := map[string]struct{}{}
	for _, rel := range sortedKeys(selected) {
		if err := snap.add(pluginDir, rel, seen); err != nil {
			_ = os.RemoveAll(dir)
			return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
		}
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Path < snap.Entries[j].Path })
	if err := snap.writeIndex(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	}
	return snap, nil
}

// add copies rel (a file, symlink or whole directory) into the snapshot.
func (s *Snapshot) add(pluginDir, rel string, seen map[string]struct{}) error {
	src := filepath.Join(pluginDir, filepath.FromSlash(rel))
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		sub, err := filepath.Rel(pluginDir, path)
		if err != nil {
			return err
		}
		sub = filepath.ToSlash(sub)
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, dup := seen[sub]; dup {
			return nil
		}
		seen[sub] = struct{}{}
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		entry := Entry{Path: sub, Mode: info.Mode().Perm()}
		switch {
		case info.IsDir():
			entry.Dir = true
		case info.Mode()&os.ModeSymlink != 0:
			if entry.Link, err = os.Readlink(path); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if entry.Digest, err = fileDigest(path); err != nil {
				return err
			}
			if err := fsutil.CopyFile(path, s.blobPath(sub)); err != nil {
				return err
			}
		default:
			return nil
		}
		s.Entries = append(s.Entries, entry)
		return nil
	})
}

// Restore writes every captured entry back under pluginDir, replacing
// whatever is at the same path, and verifies file digests. The snapshot is
// left on disk; call Discard once the caller no longer needs it.
func (s *Snapshot) Restore(pluginDir string) error {
	if s == nil || len(s.Entries) == 0 {
		return nil
	}
	for _, entry := range s.Entries {
		if err := s.restoreEntry(pluginDir, entry); err != nil {
			return errs.Wrap(errs.KindPreservation, "PRE_RESTORE", fmt.Errorf("%s: %w (snapshot kept at %s)", entry.Path, err, s.Dir))
		}
	}
	return nil
}

func (s *Snapshot) restoreEntry(pluginDir string, entry Entry) error {
	dst, err := fsutil.SafeJoin(pluginDir, filepath.FromSlash(entry.Path))
	if err != nil {
		return err
	}
	if err := fsutil.ValidateNoSymlinkPath(pluginDir, dst); err != nil {
		return err
	}
	if err := clearParents(pluginDir, dst); err != nil {
		return err
	}
	switch {
	case entry.Dir:
		if info, err := os.Lstat(dst); err == nil && !info.IsDir() {
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(dst, entry.Mode|0o700); err != nil {
			return err
		}
		return os.Chmod(dst, entry.Mode|0o700)
	case entry.Link != "":
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return os.Symlink(entry.Link, dst)
	default:
		if err := fsutil.CopyFile(s.blobPath(entry.Path), dst); err != nil {
			return err
		}
		got, err := fileDigest(dst)
		if err != nil {
			return err
		}
		if got != entry.Digest {
			return fmt.Errorf("digest mismatch: got %s, want %s", got, entry.Digest)
		}
		return nil
	}
}

// clearParents removes non-directory objects that sit where a parent
// directory of dst must go.
func clearParents(base, dst string) error {
	rel, err := filepath.Rel(base, filepath.Dir(dst))
	if err != nil || rel == "." {
		return err
	}
	current := base
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			if err := os.Remove(current); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}

// Discard deletes the snapshot's backing directory.
func (s *Snapshot) Discard() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// Paths lists the captured paths.
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Path)
	}
	return out
}

func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Entries) == 0
}

// Load reopens a snapshot left behind by an interrupted run.
func Load(dir string) (*Snapshot, error) {
	blob, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_LOAD", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, errs.Wrap(errs.KindPreservation, "PRE_LOAD", err)
	}
	snap.Dir = dir
	return &snap, nil
}

func (s *Snapshot) writeIndex() error {
	blob, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(filepath.Join(s.Dir, indexFile), blob, 0o644)
}

func (s *Snapshot) blobPath(rel string) string {
	return filepath.Join(s.Dir, "files", filepath.FromSlash(rel))
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

func isGitPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compile parses preserve patterns with / as the separator, so * stays
// within one path segment and ** spans any number of them.
func Compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.TrimPrefix(filepath.ToSlash(p), "./"), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid preserve pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func Match(matchers []glob.Glob, rel string) bool {
	for _, g := range matchers {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
