// Package testutil builds real local git repositories for tests. Helpers
// skip the calling test when git is not on PATH.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is a working repository whose commits are pushed to a bare remote.
type Repo struct {
	t    testing.TB
	Work string
	Bare string
	// URL is the file:// address of Bare.
	URL string
}

func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
}

// NewRepo creates an empty remote with a default branch of main.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	RequireGit(t)
	root := t.TempDir()
	r := &Repo{
		t:    t,
		Work: filepath.Join(root, "work"),
		Bare: filepath.Join(root, "remote.git"),
	}
	r.URL = "file://" + r.Bare
	if err := os.MkdirAll(r.Work, 0o755); err != nil {
		t.Fatalf("mkdir work failed: %v", err)
	}
	Git(t, root, "init", "--quiet", "--bare", "--initial-branch=main", r.Bare)
	r.Git("init", "--quiet", "-b", "main")
	r.Git("remote", "add", "origin", r.Bare)
	return r
}

// Git runs git in dir with a fixed identity and returns trimmed stdout.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "commit.gpgsign=false", "-c", "tag.gpgsign=false"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@test.com",
		"GIT_TERMINAL_PROMPT=0",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, string(out))
	}
	return strings.TrimSpace(string(out))
}

func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	return Git(r.t, r.Work, args...)
}

// Commit writes files (relative path -> content) on the current branch,
// pushes it and returns the new commit id.
func (r *Repo) Commit(msg string, files map[string]string) string {
	r.t.Helper()
	for rel, content := range files {
		full := filepath.Join(r.Work, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			r.t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			r.t.Fatalf("write %s failed: %v", rel, err)
		}
	}
	r.Git("add", "-A")
	r.Git("commit", "--quiet", "--allow-empty", "-m", msg)
	r.Git("push", "--quiet", "origin", "HEAD")
	return r.Head()
}

// Symlink replaces rel with a symlink to target, commits and pushes it.
func (r *Repo) Symlink(msg, rel, target string) string {
	r.t.Helper()
	full := filepath.Join(r.Work, filepath.FromSlash(rel))
	if err := os.RemoveAll(full); err != nil {
		r.t.Fatalf("remove %s failed: %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.Symlink(target, full); err != nil {
		r.t.Fatalf("symlink %s failed: %v", rel, err)
	}
	return r.Commit(msg, nil)
}

func (r *Repo) Head() string {
	r.t.Helper()
	return r.Git("rev-parse", "HEAD")
}

// Tag creates a lightweight tag at HEAD and pushes it.
func (r *Repo) Tag(name string) {
	r.t.Helper()
	r.Git("tag", name)
	r.Git("push", "--quiet", "origin", "refs/tags/"+name)
}

// AnnotatedTag creates an annotated tag at HEAD and pushes it.
func (r *Repo) AnnotatedTag(name string) {
	r.t.Helper()
	r.Git("tag", "-a", name, "-m", "release "+name)
	r.Git("push", "--quiet", "origin", "refs/tags/"+name)
}

// Branch creates name at HEAD, switches to it and pushes it.
func (r *Repo) Branch(name string) {
	r.t.Helper()
	r.Git("checkout", "--quiet", "-b", name)
	r.Git("push", "--quiet", "origin", name)
}

func (r *Repo) Switch(name string) {
	r.t.Helper()
	r.Git("checkout", "--quiet", name)
}

// BoardFiles returns a minimal board plugin tree declaring id and version.
func BoardFiles(id, version string) map[string]string {
	return map[string]string{
		"__init__.py": fmt.Sprintf("__plugin_id__ = %q\n__version__ = %q\n__description__ = \"Test board\"\n", id, version),
		"board.py": "from boards.base_plugin import BasePlugin\n\n\nclass Board(BasePlugin):\n" +
			"    def render(self, canvas):\n        return canvas\n",
		"config.sample.json": "{\"enabled\": true}\n",
	}
}
