package sync

import (
	"context"
	"errors"
	"fmt"

	"boardpm/internal/audit"
	"boardpm/internal/errs"
	"boardpm/internal/metadata"
	"boardpm/internal/resolver"
	"boardpm/internal/store"
)

type AddRequest struct {
	Source string
	Ref    string
	// Name overrides the plugin id the plugin declares.
	Name string
}

type AddResult struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Ref       string   `json:"ref,omitempty"`
	Commit    string   `json:"commit"`
	Op        string   `json:"op"`
	Preserved []string `json:"preserved,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Add resolves and materializes a new plugin, then records it in both
// documents. Re-adding an installed id updates it in place.
func (s *Service) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	parsed, err := resolver.ParseSource(req.Source)
	if err != nil {
		return AddResult{}, errs.Wrap(errs.KindConfiguration, "SYNC_ADD_SOURCE", err)
	}
	ref := req.Ref
	if ref == "" {
		ref = parsed.Ref
	}
	if req.Name != "" && !store.ValidID(req.Name) {
		return AddResult{}, errs.New(errs.KindInvalidPlugin, "SYNC_ADD_NAME", "invalid plugin id %q", req.Name)
	}
	if err := store.EnsureLayout(s.stateDir); err != nil {
		return AddResult{}, err
	}
	recovered, err := s.installer.Recover(ctx)
	if err != nil {
		return AddResult{}, err
	}
	desired, err := store.LoadDesired(s.manifestPath)
	if err != nil {
		return AddResult{}, err
	}
	lock, err := store.LoadLock(s.lockPath)
	if err != nil {
		return AddResult{}, err
	}

	// A cached listing may predate a tag the user just pushed.
	s.resolver.Forget(parsed.URL)
	res, err := s.resolver.Resolve(ctx, parsed.URL, ref)
	if err != nil {
		return AddResult{}, err
	}
	staged, err := s.installer.Stage(ctx, parsed.URL, res.Commit)
	if err != nil {
		return AddResult{}, err
	}

	out := AddResult{Source: parsed.URL, Ref: ref, Commit: res.Commit, Warnings: append([]string(nil), recovered...)}
	id := req.Name
	if id == "" {
		if id, err = metadata.RequireID(staged.Metadata); err != nil {
			staged.Cleanup()
			if parsed.Name != "" {
				err = fmt.Errorf("%w (try --name %s)", err, parsed.Name)
			}
			return out, err
		}
	} else if staged.Metadata.ID != "" && staged.Metadata.ID != id {
		out.Warnings = append(out.Warnings, fmt.Sprintf("plugin declares id %q, installing as %q", staged.Metadata.ID, id))
	}
	if err := metadata.CheckCapabilities(staged.Metadata); err != nil {
		staged.Cleanup()
		return out, errs.WithPlugin(err, id)
	}
	out.ID = id
	out.Warnings = append(out.Warnings, staged.Metadata.Warnings...)

	unlock, err := s.lock(ctx, id)
	if err != nil {
		staged.Cleanup()
		return out, lockError(err)
	}
	defer unlock()

	spec, warnings := s.preserveSpec(id)
	out.Warnings = append(out.Warnings, warnings...)
	placed, err := s.installer.Place(ctx, id, staged, spec)
	out.Op = placed.Op
	out.Preserved = placed.Preserved
	out.Warnings = append(out.Warnings, placed.Warnings...)
	if err != nil {
		return out, errs.WithPlugin(err, id)
	}

	store.UpsertDesired(&desired, store.PluginEntry{ID: id, Source: parsed.URL, Ref: ref})
	store.UpsertLock(&lock, store.LockEntry{ID: id, Source: parsed.URL, Ref: ref, ResolvedCommit: res.Commit, ResolvedAt: s.now().UTC()})
	if err := store.SaveDesired(s.manifestPath, desired); err != nil {
		return out, err
	}
	if err := store.SaveLock(s.lockPath, lock); err != nil {
		return out, err
	}
	_ = s.audit.Log(audit.Event{Operation: "add", Phase: "commit", Status: "ok", Plugin: id, Fields: map[string]string{"source": parsed.URL, "ref": ref, "commit": res.Commit}})
	s.logger.Info("plugin added", "plugin", id, "commit", res.Commit, "op", out.Op)
	return out, nil
}

type RemoveResult struct {
	ID        string   `json:"id"`
	Preserved []string `json:"preserved,omitempty"`
	// Pruned is true when the id was dropped from the manifest or lock.
	Pruned bool `json:"pruned"`
}

// Remove uninstalls id whether or not it is desired and drops it from both
// documents. An id that is not installed still has its entries pruned, but
// the call reports NotInstalled.
func (s *Service) Remove(ctx context.Context, id string, keepConfig bool) (RemoveResult, error) {
	out := RemoveResult{ID: id}
	if !store.ValidID(id) {
		return out, errs.New(errs.KindConfiguration, "SYNC_RM_ID", "invalid plugin id %q", id)
	}
	if err := store.EnsureLayout(s.stateDir); err != nil {
		return out, err
	}
	if _, err := s.installer.Recover(ctx); err != nil {
		return out, err
	}
	desired, err := store.LoadDesired(s.manifestPath)
	if err != nil {
		return out, err
	}
	lock, err := store.LoadLock(s.lockPath)
	if err != nil {
		return out, err
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return out, lockError(err)
	}
	defer unlock()

	spec, _ := s.preserveSpec(id)
	res, uerr := s.installer.Uninstall(ctx, id, keepConfig, spec)
	if uerr != nil && !errors.Is(uerr, errs.KindNotInstalled) {
		return out, uerr
	}
	out.Preserved = res.Preserved

	droppedDesired := store.RemoveDesired(&desired, id)
	droppedLock := store.RemoveLock(&lock, id)
	if droppedDesired {
		if err := store.SaveDesired(s.manifestPath, desired); err != nil {
			return out, err
		}
	}
	if droppedLock {
		if err := store.SaveLock(s.lockPath, lock); err != nil {
			return out, err
		}
	}
	out.Pruned = droppedDesired || droppedLock
	_ = s.audit.Log(audit.Event{Operation: "rm", Phase: "commit", Status: "ok", Plugin: id, Fields: map[string]string{"keep_config": fmt.Sprint(keepConfig), "pruned": fmt.Sprint(out.Pruned)}})
	return out, uerr
}
