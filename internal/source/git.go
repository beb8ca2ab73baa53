// Package source wraps the git CLI for the operations boardpm needs against
// plugin remotes and working copies. Network calls get a per-call timeout
// and a bounded number of retries for transient failures.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"boardpm/internal/errs"
	"boardpm/internal/logging"
)

// Git is the set of git operations used by the resolver and the installer.
type Git interface {
	LsRemote(ctx context.Context, remote string) ([]RemoteRef, error)
	Clone(ctx context.Context, remote, dir string) error
	InitBare(ctx context.Context, dir string) error
	Fetch(ctx context.Context, dir, remote string, depth int, refspecs ...string) error
	Checkout(ctx context.Context, dir, commit string) error
	Head(ctx context.Context, dir string) (string, error)
	Status(ctx context.Context, dir string) ([]string, error)
	HasCommit(ctx context.Context, dir, rev string) (string, error)
	Version(ctx context.Context) (string, error)
}

// RemoteRef is one line of `git ls-remote` output.
type RemoteRef struct {
	Name   string
	Commit string
}

// ExecFunc runs git with args in dir and returns stdout.
type ExecFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

type Options struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
	Exec    ExecFunc
}

// CLI implements Git by shelling out to the git binary.
type CLI struct {
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *slog.Logger
	execGit ExecFunc
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCLI(opts Options) *CLI {
	c := &CLI{
		timeout: opts.Timeout,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logging.OrDiscard(opts.Logger),
		execGit: opts.Exec,
		sleep:   sleepCtx,
	}
	if c.execGit == nil {
		c.execGit = DefaultExec
	}
	if c.retries < 1 {
		c.retries = 1
	}
	return c
}

// DefaultExec runs the git binary with prompts disabled so a missing
// credential fails fast instead of blocking on a terminal.
func DefaultExec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}

func (c *CLI) LsRemote(ctx context.Context, remote string) ([]RemoteRef, error) {
	out, err := c.network(ctx, "ls-remote", nil, "", "ls-remote", remote)
	if err != nil {
		return nil, c.classify(ctx, errs.KindRemoteUnreachable, "GIT_LS_REMOTE", err)
	}
	return ParseLsRemote(out), nil
}

// Clone makes a full clone without checking out a working tree; Checkout
// materializes the pinned commit afterwards.
func (c *CLI) Clone(ctx context.Context, remote, dir string) error {
	reset := func() { _ = os.RemoveAll(dir) }
	_, err := c.network(ctx, "clone", reset, "", "clone", "--quiet", "--no-checkout", remote, dir)
	if err != nil {
		return c.classify(ctx, errs.KindCloneFailed, "GIT_CLONE", err)
	}
	return nil
}

func (c *CLI) InitBare(ctx context.Context, dir string) error {
	if _, err := c.execGit(ctx, "", "init", "--quiet", "--bare", dir); err != nil {
		return fmt.Errorf("GIT_INIT: %w", err)
	}
	return nil
}

// Fetch fetches refspecs from remote into dir. depth 0 means a full fetch.
func (c *CLI) Fetch(ctx context.Context, dir, remote string, depth int, refspecs ...string) error {
	args := []string{"fetch", "--quiet", "--no-tags"}
	if depth > 0 {
		args = append(args, "--depth", fmt.Sprint(depth))
	}
	args = append(args, remote)
	args = append(args, refspecs...)
	if _, err := c.network(ctx, "fetch", nil, dir, args...); err != nil {
		return c.classify(ctx, errs.KindRemoteUnreachable, "GIT_FETCH", err)
	}
	return nil
}

func (c *CLI) Checkout(ctx context.Context, dir, commit string) error {
	if _, err := c.execGit(ctx, dir, "-c", "advice.detachedHead=false", "checkout", "--quiet", "--force", "--detach", commit); err != nil {
		return c.classify(ctx, errs.KindCommitNotFound, "GIT_CHECKOUT", err)
	}
	return nil
}

func (c *CLI) Head(ctx context.Context, dir string) (string, error) {
	out, err := c.execGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("GIT_HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Status lists paths with local modifications, untracked files included.
func (c *CLI) Status(ctx context.Context, dir string) ([]string, error) {
	out, err := c.execGit(ctx, dir, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("GIT_STATUS: %w", err)
	}
	return ParseStatus(out), nil
}

// HasCommit expands rev to a full commit id if the object exists in dir.
func (c *CLI) HasCommit(ctx context.Context, dir, rev string) (string, error) {
	out, err := c.execGit(ctx, dir, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		if ctx.Err() != nil {
			return "", canceled(ctx)
		}
		return "", errs.New(errs.KindCommitNotFound, "GIT_COMMIT_NOT_FOUND", "commit %s not found", rev)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CLI) Version(ctx context.Context) (string, error) {
	out, err := c.execGit(ctx, "", "--version")
	if err != nil {
		return "", fmt.Errorf("GIT_UNAVAILABLE: %w", err)
	}
	return strings.TrimPrefix(strings.TrimSpace(string(out)), "git version "), nil
}

// network runs a remote-facing git command with the per-call timeout and
// bounded retry. reset, if set, runs before every retry.
func (c *CLI) network(ctx context.Context, op string, reset func(), dir string, args ...string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff<<(attempt-1)); err != nil {
				return nil, err
			}
			if reset != nil {
				reset()
			}
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		out, err := c.execGit(callCtx, dir, args...)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if timedOut {
			err = &CommandError{Args: args, Err: fmt.Errorf("timed out after %s", c.timeout)}
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		c.logger.Warn("transient git failure, retrying",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

func (c *CLI) classify(ctx context.Context, kind errs.Kind, code string, err error) error {
	if ctx.Err() != nil {
		return canceled(ctx)
	}
	return errs.Wrap(kind, code, err)
}

func canceled(ctx context.Context) error {
	return errs.Wrap(errs.KindCanceled, "RUN_CANCELED", ctx.Err())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseLsRemote parses `<sha>\t<refname>` lines.
func ParseLsRemote(out []byte) []RemoteRef {
	var refs []RemoteRef
	for _, line := range strings.Split(string(out), "\n") {
		sha, name, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || sha == "" || name == "" {
			continue
		}
		refs = append(refs, RemoteRef{Name: name, Commit: sha})
	}
	return refs
}

// ParseStatus extracts paths from `git status --porcelain=v1 -z` output.
// For renames and copies only the new path is reported.
func ParseStatus(out []byte) []string {
	fields := strings.Split(string(out), "\x00")
	var paths []string
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		paths = append(paths, entry[3:])
		if entry[0] == 'R' || entry[0] == 'C' {
			i++
		}
	}
	return paths
}
