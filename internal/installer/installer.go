// Package installer materializes plugins as git working copies under the
// plugins root. Every destructive step is journaled so that a killed
// process can be rolled forward or back on the next run.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"boardpm/internal/audit"
	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
	"boardpm/internal/logging"
	"boardpm/internal/metadata"
	"boardpm/internal/preserve"
	"boardpm/internal/source"
	"boardpm/internal/store"
)

type Options struct {
	PluginsDir string
	Git        source.Git
	Journal    *store.Journal
	Snapshots  *preserve.Engine
	Audit      *audit.Logger
	Logger     *slog.Logger
}

type Service struct {
	pluginsDir string
	git        source.Git
	journal    *store.Journal
	snapshots  *preserve.Engine
	audit      *audit.Logger
	logger     *slog.Logger
	// fault, when set, is consulted at named steps so tests can inject
	// failures.
	fault func(step string) error
}

func New(opts Options) *Service {
	return &Service{
		pluginsDir: opts.PluginsDir,
		git:        opts.Git,
		journal:    opts.Journal,
		snapshots:  opts.Snapshots,
		audit:      opts.Audit,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

// Observed is what is on disk for one plugin id.
type Observed struct {
	ID       string   `json:"id"`
	Dir      string   `json:"dir"`
	Exists   bool     `json:"exists"`
	IsRepo   bool     `json:"isRepo"`
	Head     string   `json:"head,omitempty"`
	Modified []string `json:"modified,omitempty"`
}

// Staged is a fresh checkout waiting in the staging area.
type Staged struct {
	Dir      string
	Source   string
	Commit   string
	Metadata metadata.Metadata
}

// Cleanup removes a staged checkout that was never placed.
func (st *Staged) Cleanup() {
	if st != nil && st.Dir != "" {
		_ = os.RemoveAll(st.Dir)
	}
}

// Result describes one completed materialization.
type Result struct {
	ID        string   `json:"id"`
	Op        string   `json:"op"`
	Dir       string   `json:"dir"`
	Commit    string   `json:"commit,omitempty"`
	Preserved []string `json:"preserved,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

func (s *Service) Dir(id string) string {
	return filepath.Join(s.pluginsDir, id)
}

func (s *Service) Inspect(ctx context.Context, id string) (Observed, error) {
	obs := Observed{ID: id, Dir: s.Dir(id)}
	info, err := os.Lstat(obs.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return obs, nil
	}
	if err != nil {
		return obs, err
	}
	obs.Exists = true
	if !info.IsDir() {
		return obs, nil
	}
	if ok, _ := fsutil.Exists(filepath.Join(obs.Dir, ".git")); !ok {
		return obs, nil
	}
	obs.IsRepo = true
	if head, err := s.git.Head(ctx, obs.Dir); err == nil {
		obs.Head = head
	} else {
		s.logger.Debug("read HEAD failed", "plugin", id, "error", err)
	}
	if modified, err := s.git.Status(ctx, obs.Dir); err == nil {
		obs.Modified = modified
	} else {
		s.logger.Debug("git status failed", "plugin", id, "error", err)
	}
	return obs, nil
}

// Stage clones src into the staging area and checks out commit.
func (s *Service) Stage(ctx context.Context, src, commit string) (*Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	root := store.StagingRoot(s.pluginsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("INS_STAGE_CREATE: %w", err)
	}
	dir := filepath.Join(root, fmt.Sprintf("stage-%d", time.Now().UnixNano()))
	st := &Staged{Dir: dir, Source: src, Commit: commit}
	if err := s.git.Clone(ctx, src, dir); err != nil {
		st.Cleanup()
		return nil, err
	}
	if err := s.checkout(ctx, dir, commit); err != nil {
		st.Cleanup()
		return nil, err
	}
	md, err := metadata.Read(dir)
	if err != nil {
		st.Cleanup()
		return nil, err
	}
	st.Metadata = md
	return st, nil
}

// checkout pins dir to commit, fetching it explicitly when the clone did not
// bring it in (a commit no branch or tag points at).
func (s *Service) checkout(ctx context.Context, dir, commit string) error {
	err := s.git.Checkout(ctx, dir, commit)
	if err == nil || !errors.Is(err, errs.KindCommitNotFound) {
		return err
	}
	if ferr := s.git.Fetch(ctx, dir, "origin", 0, commit); ferr != nil {
		if ctx.Err() != nil {
			return ferr
		}
		return errs.New(errs.KindCommitNotFound, "INS_COMMIT_NOT_FOUND", "commit %s not found in %s", commit, dir)
	}
	return s.git.Checkout(ctx, dir, commit)
}

// Install clones entry at commit into a plugin dir that must not exist yet.
func (s *Service) Install(ctx context.Context, entry store.PluginEntry, commit string) (Result, error) {
	if ok, err := fsutil.Exists(s.Dir(entry.ID)); err != nil {
		return Result{}, err
	} else if ok {
		return Result{}, fmt.Errorf("INS_EXISTS: %s already exists", s.Dir(entry.ID))
	}
	st, err := s.Stage(ctx, entry.Source, commit)
	if err != nil {
		return Result{}, err
	}
	return s.Place(ctx, entry.ID, st, preserve.Spec{})
}

// Update replaces an installed plugin with a fresh checkout of commit while
// carrying over files matched by spec and any local edits.
func (s *Service) Update(ctx context.Context, entry store.PluginEntry, commit string, spec preserve.Spec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	if ok, err := fsutil.Exists(s.Dir(entry.ID)); err != nil {
		return Result{}, err
	} else if !ok {
		return s.Install(ctx, entry, commit)
	}
	snap, warnings, err := s.capture(ctx, entry.ID, spec)
	if err != nil {
		return Result{}, err
	}
	st, err := s.Stage(ctx, entry.Source, commit)
	if err != nil {
		_ = snap.Discard()
		return Result{}, err
	}
	res, err := s.swap(ctx, entry.ID, st, snap)
	res.Warnings = append(warnings, res.Warnings...)
	return res, err
}

// Place moves a staged checkout to the plugin dir for id, preserving user
// files from any existing copy.
func (s *Service) Place(ctx context.Context, id string, st *Staged, spec preserve.Spec) (Result, error) {
	exists, err := fsutil.Exists(s.Dir(id))
	if err != nil {
		st.Cleanup()
		return Result{}, err
	}
	if !exists {
		return s.placeNew(ctx, id, st)
	}
	snap, warnings, err := s.capture(ctx, id, spec)
	if err != nil {
		st.Cleanup()
		return Result{}, err
	}
	res, err := s.swap(ctx, id, st, snap)
	res.Warnings = append(warnings, res.Warnings...)
	return res, err
}

func (s *Service) placeNew(ctx context.Context, id string, st *Staged) (Result, error) {
	dir := s.Dir(id)
	res := Result{ID: id, Op: "install", Dir: dir, Commit: st.Commit}
	if err := ctx.Err(); err != nil {
		st.Cleanup()
		return res, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	_ = s.audit.Log(audit.Event{Operation: "install", Phase: "start", Status: "ok", Plugin: id, Fields: map[string]string{"commit": st.Commit}})
	if err := s.journal.Begin(store.PendingOp{Plugin: id, Op: "install", Phase: store.PhaseStaged, Dir: dir, Staging: st.Dir, StartedAt: time.Now().UTC()}); err != nil {
		st.Cleanup()
		return res, err
	}
	err := s.step("place")
	if err == nil {
		if rerr := os.Rename(st.Dir, dir); rerr != nil {
			err = errs.Wrap(errs.KindCloneFailed, "INS_COMMIT_ATOMIC", rerr)
		}
	}
	if err != nil {
		st.Cleanup()
		_ = s.journal.Finish(id)
		_ = s.audit.Log(audit.Event{Operation: "install", Phase: "rollback", Status: "error", Plugin: id, Message: err.Error()})
		return res, err
	}
	if err := s.journal.Finish(id); err != nil {
		return res, err
	}
	res.Warnings = missingFileWarnings(dir)
	_ = s.audit.Log(audit.Event{Operation: "install", Phase: "commit", Status: "ok", Plugin: id, Fields: map[string]string{"commit": st.Commit}})
	return res, nil
}

// capture snapshots spec plus local modifications of the installed copy.
func (s *Service) capture(ctx context.Context, id string, spec preserve.Spec) (*preserve.Snapshot, []string, error) {
	obs, err := s.Inspect(ctx, id)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindPreservation, "PRE_CAPTURE", err)
	}
	var warnings []string
	if len(obs.Modified) > 0 {
		warnings = append(warnings, fmt.Sprintf("local edits preserved: %s", strings.Join(obs.Modified, ", ")))
		s.logger.Warn("plugin has local edits; keeping them", "plugin", id, "paths", obs.Modified)
	}
	snap, err := s.snapshots.Capture(obs.Dir, spec.Patterns, obs.Modified)
	if err != nil {
		return nil, nil, err
	}
	return snap, warnings, nil
}

// swap replaces the plugin dir with the staged checkout. Once the journal
// records the swap the operation runs to completion regardless of ctx.
func (s *Service) swap(ctx context.Context, id string, st *Staged, snap *preserve.Snapshot) (Result, error) {
	dir := s.Dir(id)
	res := Result{ID: id, Op: "update", Dir: dir, Commit: st.Commit}
	abort := func(err error) (Result, error) {
		st.Cleanup()
		_ = snap.Discard()
		_ = s.journal.Finish(id)
		_ = s.audit.Log(audit.Event{Operation: "update", Phase: "rollback", Status: "error", Plugin: id, Message: err.Error()})
		return res, err
	}
	if err := ctx.Err(); err != nil {
		st.Cleanup()
		_ = snap.Discard()
		return res, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	_ = s.audit.Log(audit.Event{Operation: "update", Phase: "start", Status: "ok", Plugin: id, Fields: map[string]string{"commit": st.Commit}})
	backup := filepath.Join(store.StagingRoot(s.pluginsDir), fmt.Sprintf("%s-%d.bak", id, time.Now().UnixNano()))
	op := store.PendingOp{Plugin: id, Op: "update", Phase: store.PhaseStaged, Dir: dir, Snapshot: snap.Dir, Staging: st.Dir, Backup: backup, StartedAt: time.Now().UTC()}
	if err := s.journal.Begin(op); err != nil {
		st.Cleanup()
		_ = snap.Discard()
		return res, err
	}
	if err := s.journal.Advance(id, store.PhaseSwap, nil); err != nil {
		return abort(err)
	}

	if err := s.step("backup"); err != nil {
		return abort(err)
	}
	if err := os.Rename(dir, backup); err != nil {
		return abort(errs.Wrap(errs.KindCloneFailed, "INS_COMMIT_BACKUP", err))
	}
	err := s.step("place")
	if err == nil {
		if rerr := os.Rename(st.Dir, dir); rerr != nil {
			err = errs.Wrap(errs.KindCloneFailed, "INS_COMMIT_ATOMIC", rerr)
		}
	}
	if err != nil {
		if rerr := putBack(dir, backup); rerr != nil {
			return res, errs.Wrap(errs.KindPreservation, "INS_ROLLBACK", fmt.Errorf("%w (placing: %v)", rerr, err))
		}
		return abort(err)
	}
	if err := s.journal.Advance(id, store.PhasePlaced, nil); err != nil {
		s.logger.Warn("journal update failed", "plugin", id, "error", err)
	}

	if err := s.restore(id, dir, snap); err != nil {
		_ = s.audit.Log(audit.Event{Operation: "update", Phase: "restore", Status: "error", Plugin: id, Code: "PRE_RESTORE", Message: err.Error()})
		return res, err
	}
	if err := os.RemoveAll(backup); err != nil {
		s.logger.Warn("remove backup failed", "plugin", id, "backup", backup, "error", err)
	}
	if err := snap.Discard(); err != nil {
		s.logger.Warn("discard snapshot failed", "plugin", id, "error", err)
	}
	if err := s.journal.Finish(id); err != nil {
		return res, err
	}
	res.Preserved = snap.Paths()
	res.Warnings = missingFileWarnings(dir)
	_ = s.audit.Log(audit.Event{Operation: "update", Phase: "commit", Status: "ok", Plugin: id, Fields: map[string]string{"commit": st.Commit, "preserved": fmt.Sprint(len(res.Preserved))}})
	return res, nil
}

// putBack returns backup to dir. Anything already at dir is moved aside
// first and only deleted once the backup is back in place.
func putBack(dir, backup string) error {
	if ok, err := fsutil.Exists(backup); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("backup %s is missing; %s left as is", backup, dir)
	}
	aside := ""
	if ok, _ := fsutil.Exists(dir); ok {
		aside = backup + ".failed"
		if err := os.Rename(dir, aside); err != nil {
			return fmt.Errorf("%w; previous copy left at %s", err, backup)
		}
	}
	if err := os.Rename(backup, dir); err != nil {
		if aside != "" {
			_ = os.Rename(aside, dir)
		}
		return fmt.Errorf("%w; previous copy left at %s", err, backup)
	}
	if aside != "" {
		_ = os.RemoveAll(aside)
	}
	return nil
}

func (s *Service) restore(id, dir string, snap *preserve.Snapshot) error {
	err := s.step("restore")
	if err == nil {
		err = snap.Restore(dir)
	}
	if err != nil {
		if !errors.Is(err, errs.KindPreservation) {
			err = errs.Wrap(errs.KindPreservation, "PRE_RESTORE", err)
		}
		s.logger.Error("restoring preserved files failed; snapshot kept", "plugin", id, "snapshot", snap.Dir, "error", err)
		return errs.WithPlugin(err, id)
	}
	return nil
}

func (s *Service) step(name string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(name)
}

func missingFileWarnings(dir string) []string {
	missing := metadata.MissingFiles(dir)
	if len(missing) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("plugin is missing expected files: %s", strings.Join(missing, ", "))}
}
