// Package sync converges the plugins root onto the desired manifest and keeps
// the lock file in step with what is on disk.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"boardpm/internal/audit"
	"boardpm/internal/errs"
	"boardpm/internal/installer"
	"boardpm/internal/logging"
	"boardpm/internal/metadata"
	"boardpm/internal/preserve"
	"boardpm/internal/resolver"
	"boardpm/internal/store"
)

type Options struct {
	Resolver         *resolver.Service
	Installer        *installer.Service
	ManifestPath     string
	LockPath         string
	StateDir         string
	PreserveDefaults []string
	Workers          int
	Audit            *audit.Logger
	Logger           *slog.Logger
	// Now stamps resolvedAt in new lock entries; time.Now when nil.
	Now func() time.Time
}

type Service struct {
	resolver     *resolver.Service
	installer    *installer.Service
	manifestPath string
	lockPath     string
	stateDir     string
	defaults     []string
	workers      int
	audit        *audit.Logger
	logger       *slog.Logger
	now          func() time.Time
	locks        pluginLocks
}

func New(opts Options) *Service {
	s := &Service{
		resolver:     opts.Resolver,
		installer:    opts.Installer,
		manifestPath: opts.ManifestPath,
		lockPath:     opts.LockPath,
		stateDir:     opts.StateDir,
		defaults:     opts.PreserveDefaults,
		workers:      opts.Workers,
		audit:        opts.Audit,
		logger:       logging.OrDiscard(opts.Logger),
		now:          opts.Now,
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type SyncOptions struct {
	DryRun bool
}

// Report summarizes one sync run. Lists are sorted by plugin id.
type Report struct {
	Installed []string `json:"installed"`
	Updated   []string `json:"updated"`
	Removed   []string `json:"removed"`
	// Pruned lists undesired ids dropped from the lock with nothing on disk
	// to remove.
	Pruned    []string `json:"pruned,omitempty"`
	Unchanged []string `json:"unchanged"`
	Failed    []string `json:"failed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Recovered []string `json:"recovered,omitempty"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

func (r Report) HasFailures() bool { return len(r.Failed) > 0 }

// Mutations counts plugins the run installed, updated or removed.
func (r Report) Mutations() int {
	return len(r.Installed) + len(r.Updated) + len(r.Removed)
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeInstalled
	outcomeUpdated
	outcomeRemoved
	outcomePruned
)

// result is what one worker hands back for one plugin.
type result struct {
	id       string
	outcome  outcome
	lock     *store.LockEntry
	drop     bool
	warnings []string
	err      error
}

// Sync reconciles every managed plugin. Plugin-scoped failures are reported
// and leave that plugin's lock entry as it was; configuration and
// preservation failures stop the run. Lock entries for plugins that did
// finish are committed in every case.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (Report, error) {
	report := Report{DryRun: opts.DryRun}
	if !opts.DryRun {
		if err := store.EnsureLayout(s.stateDir); err != nil {
			return report, err
		}
		recovered, err := s.installer.Recover(ctx)
		report.Recovered = recovered
		if err != nil {
			return report, err
		}
	}
	desired, err := store.LoadDesired(s.manifestPath)
	if err != nil {
		return report, err
	}
	lock, err := store.LoadLock(s.lockPath)
	if err != nil {
		return report, err
	}
	_ = s.audit.Log(audit.Event{Operation: "sync", Phase: "start", Status: "ok", Fields: map[string]string{"plugins": fmt.Sprint(len(desired.Plugins)), "dry_run": fmt.Sprint(opts.DryRun)}})

	var (
		mu      gosync.Mutex
		results []result
	)
	collect := func(r result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, entry := range desired.Plugins {
		locked, hasLock := store.FindLock(lock, entry.ID)
		g.Go(func() error {
			r := s.converge(gctx, entry, locked, hasLock, opts.DryRun)
			collect(r)
			if errs.Fatal(r.err) {
				return r.err
			}
			return nil
		})
	}
	for _, locked := range lock.Plugins {
		if _, ok := store.FindDesired(desired, locked.ID); ok {
			continue
		}
		g.Go(func() error {
			r := s.retire(gctx, locked.ID, opts.DryRun)
			collect(r)
			if errs.Fatal(r.err) {
				return r.err
			}
			return nil
		})
	}
	fatal := g.Wait()

	for _, r := range results {
		for _, w := range r.warnings {
			report.Warnings = append(report.Warnings, r.id+": "+w)
		}
		if r.err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", r.id, r.err))
			continue
		}
		switch r.outcome {
		case outcomeInstalled:
			report.Installed = append(report.Installed, r.id)
		case outcomeUpdated:
			report.Updated = append(report.Updated, r.id)
		case outcomeRemoved:
			report.Removed = append(report.Removed, r.id)
		case outcomePruned:
			report.Pruned = append(report.Pruned, r.id)
		default:
			report.Unchanged = append(report.Unchanged, r.id)
		}
		if r.drop {
			store.RemoveLock(&lock, r.id)
		} else if r.lock != nil {
			store.UpsertLock(&lock, *r.lock)
		}
	}
	for _, list := range [][]string{report.Installed, report.Updated, report.Removed, report.Pruned, report.Unchanged, report.Failed, report.Warnings} {
		sort.Strings(list)
	}

	if !opts.DryRun {
		if err := store.SaveLock(s.lockPath, lock); err != nil {
			return report, err
		}
	}
	status := "ok"
	if fatal != nil || report.HasFailures() {
		status = "error"
	}
	_ = s.audit.Log(audit.Event{Operation: "sync", Phase: "commit", Status: status, Fields: map[string]string{
		"installed": fmt.Sprint(len(report.Installed)),
		"updated":   fmt.Sprint(len(report.Updated)),
		"removed":   fmt.Sprint(len(report.Removed)),
		"failed":    fmt.Sprint(len(report.Failed)),
	}})
	if fatal != nil {
		return report, fatal
	}
	if err := ctx.Err(); err != nil {
		return report, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	return report, nil
}

// converge brings one desired plugin to its resolved commit.
func (s *Service) converge(ctx context.Context, entry store.PluginEntry, locked store.LockEntry, hasLock, dryRun bool) (r result) {
	r.id = entry.ID
	log := s.logger.With("plugin", entry.ID)
	defer func() {
		if r.err != nil {
			r.err = errs.WithPlugin(r.err, entry.ID)
			log.Error("plugin sync failed", "error", r.err)
		}
	}()
	if err := ctx.Err(); err != nil {
		r.err = errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
		return r
	}
	if !dryRun {
		unlock, err := s.lock(ctx, entry.ID)
		if err != nil {
			r.err = lockError(err)
			return r
		}
		defer unlock()
	}

	res, err := s.resolver.Resolve(ctx, entry.Source, entry.Ref)
	if err != nil {
		r.err = err
		return r
	}
	log.Debug("resolved", "ref", entry.Ref, "kind", res.Kind, "commit", res.Commit)
	fresh := store.LockEntry{ID: entry.ID, Source: entry.Source, Ref: entry.Ref, ResolvedCommit: res.Commit, ResolvedAt: s.now().UTC()}
	if hasLock && locked.ResolvedCommit == res.Commit && locked.Source == entry.Source && locked.Ref == entry.Ref {
		fresh.ResolvedAt = locked.ResolvedAt
	}
	r.lock = &fresh

	obs, err := s.installer.Inspect(ctx, entry.ID)
	if err != nil {
		r.err = err
		return r
	}
	switch {
	case !obs.Exists:
		r.outcome = outcomeInstalled
		if dryRun {
			return r
		}
		log.Info("installing", "commit", res.Commit)
		out, err := s.installer.Install(ctx, entry, res.Commit)
		r.warnings = append(r.warnings, out.Warnings...)
		r.err = err
	case obs.IsRepo && obs.Head == res.Commit:
		r.outcome = outcomeUnchanged
		if edits := s.localEdits(entry.ID, obs.Modified); len(edits) > 0 {
			r.warnings = append(r.warnings, fmt.Sprintf("local edits left in place: %s", strings.Join(edits, ", ")))
		}
		return r
	default:
		r.outcome = outcomeUpdated
		if dryRun {
			return r
		}
		spec, warnings := s.preserveSpec(entry.ID)
		r.warnings = append(r.warnings, warnings...)
		log.Info("updating", "from", obs.Head, "to", res.Commit)
		out, err := s.installer.Update(ctx, entry, res.Commit, spec)
		r.warnings = append(r.warnings, out.Warnings...)
		r.err = err
	}
	if r.err == nil {
		r.warnings = append(r.warnings, s.checkInstalled(entry.ID)...)
	}
	return r
}

// retire uninstalls a plugin that is locked but no longer desired.
func (s *Service) retire(ctx context.Context, id string, dryRun bool) (r result) {
	r.id = id
	r.outcome = outcomeRemoved
	r.drop = true
	defer func() {
		if r.err != nil {
			r.err = errs.WithPlugin(r.err, id)
			s.logger.Error("plugin removal failed", "plugin", id, "error", r.err)
		}
	}()
	if err := ctx.Err(); err != nil {
		r.err = errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
		return r
	}
	if dryRun {
		return r
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		r.err = lockError(err)
		return r
	}
	defer unlock()
	spec, warnings := s.preserveSpec(id)
	r.warnings = warnings
	s.logger.Info("removing undesired plugin", "plugin", id)
	_, err = s.installer.Uninstall(ctx, id, true, spec)
	switch {
	case errors.Is(err, errs.KindNotInstalled):
		r.outcome = outcomePruned
	case err != nil:
		r.err = err
	}
	return r
}

// preserveSpec reads the installed copy's declared preserve_files, falling
// back to the configured defaults.
func (s *Service) preserveSpec(id string) (preserve.Spec, []string) {
	md, err := metadata.Read(s.installer.Dir(id))
	if err != nil {
		return preserve.SpecFor(nil, s.defaults), []string{fmt.Sprintf("installed metadata unreadable, using default preserve patterns: %v", err)}
	}
	return preserve.SpecFor(md.PreserveFiles, s.defaults), nil
}

// checkInstalled turns metadata problems of a freshly placed plugin into
// warnings.
func (s *Service) checkInstalled(id string) []string {
	md, err := metadata.Read(s.installer.Dir(id))
	if err != nil {
		return []string{err.Error()}
	}
	var out []string
	out = append(out, md.Warnings...)
	if md.ID == "" {
		out = append(out, "plugin declares no plugin_id; using directory name")
	} else if md.ID != id {
		out = append(out, fmt.Sprintf("plugin declares id %q but is installed as %q", md.ID, id))
	}
	if err := metadata.CheckCapabilities(md); err != nil {
		out = append(out, err.Error())
	}
	return out
}

func lockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	return err
}

// localEdits drops paths the plugin's preservation patterns already treat as
// user data, leaving edits to the plugin's own files.
func (s *Service) localEdits(id string, modified []string) []string {
	if len(modified) == 0 {
		return nil
	}
	spec, _ := s.preserveSpec(id)
	matchers, err := preserve.Compile(spec.Patterns)
	if err != nil {
		return modified
	}
	var out []string
	for _, rel := range modified {
		if !covered(matchers, rel) {
			out = append(out, rel)
		}
	}
	return out
}

func covered(matchers []glob.Glob, rel string) bool {
	for p := rel; p != "." && p != "/" && p != ""; p = path.Dir(p) {
		if preserve.Match(matchers, p) {
			return true
		}
	}
	return false
}
