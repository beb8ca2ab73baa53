package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"boardpm/internal/resolver"
	"boardpm/internal/store"
)

type Status string

const (
	StatusCurrent  Status = "current"
	StatusBehind   Status = "behind"
	StatusMissing  Status = "missing"
	StatusUnlocked Status = "unlocked"
	StatusDrifted  Status = "drifted"
	StatusModified Status = "modified"
	StatusUnknown  Status = "unknown"
)

type ListOptions struct {
	// Offline skips remote resolution; behind and newer-release columns
	// stay empty.
	Offline bool
}

type ListItem struct {
	ID             string   `json:"id"`
	Source         string   `json:"source"`
	Ref            string   `json:"ref,omitempty"`
	LockedCommit   string   `json:"lockedCommit,omitempty"`
	Head           string   `json:"head,omitempty"`
	ResolvedCommit string   `json:"resolvedCommit,omitempty"`
	Status         Status   `json:"status"`
	Latest         string   `json:"latest,omitempty"`
	Modified       []string `json:"modified,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// List reports every desired plugin, in manifest order. It never mutates
// anything on disk.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]ListItem, error) {
	desired, err := store.LoadDesired(s.manifestPath)
	if err != nil {
		return nil, err
	}
	lock, err := store.LoadLock(s.lockPath)
	if err != nil {
		return nil, err
	}
	items := make([]ListItem, len(desired.Plugins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, entry := range desired.Plugins {
		g.Go(func() error {
			item, err := s.describe(gctx, entry, lock, opts)
			items[i] = item
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) describe(ctx context.Context, entry store.PluginEntry, lock store.Lockfile, opts ListOptions) (ListItem, error) {
	item := ListItem{ID: entry.ID, Source: entry.Source, Ref: entry.Ref}
	locked, hasLock := store.FindLock(lock, entry.ID)
	if hasLock {
		item.LockedCommit = locked.ResolvedCommit
	}
	obs, err := s.installer.Inspect(ctx, entry.ID)
	if err != nil {
		return item, err
	}
	item.Head = obs.Head
	item.Modified = s.localEdits(entry.ID, obs.Modified)

	switch {
	case !obs.Exists:
		item.Status = StatusMissing
	case !hasLock:
		item.Status = StatusUnlocked
	case obs.Head != locked.ResolvedCommit:
		item.Status = StatusDrifted
	case len(item.Modified) > 0:
		item.Status = StatusModified
	default:
		item.Status = StatusCurrent
	}
	if opts.Offline {
		return item, nil
	}

	res, err := s.resolver.Resolve(ctx, entry.Source, entry.Ref)
	if err != nil {
		if ctx.Err() != nil {
			return item, ctx.Err()
		}
		item.Error = err.Error()
		if item.Status == StatusCurrent || item.Status == StatusModified {
			item.Status = StatusUnknown
		}
		s.logger.Debug("list resolution failed", "plugin", entry.ID, "error", err)
		return item, nil
	}
	item.ResolvedCommit = res.Commit
	if item.Status == StatusCurrent && res.Commit != locked.ResolvedCommit {
		item.Status = StatusBehind
	}
	if res.Kind == resolver.KindTag && resolver.IsSemverTag(entry.Ref) {
		if latest, err := s.resolver.LatestTag(ctx, entry.Source); err == nil && resolver.Newer(latest, entry.Ref) {
			item.Latest = latest
		}
	}
	return item, nil
}
