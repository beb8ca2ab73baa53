package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"boardpm/internal/audit"
	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
	"boardpm/internal/preserve"
	"boardpm/internal/store"
)

// Uninstall removes the plugin dir for id. With keepConfig the dir is
// recreated holding only the files matched by spec, empty if none matched.
func (s *Service) Uninstall(ctx context.Context, id string, keepConfig bool, spec preserve.Spec) (Result, error) {
	dir := s.Dir(id)
	res := Result{ID: id, Op: "uninstall", Dir: dir}
	if err := ctx.Err(); err != nil {
		return res, errs.Wrap(errs.KindCanceled, "RUN_CANCELED", err)
	}
	if ok, err := fsutil.Exists(dir); err != nil {
		return res, err
	} else if !ok {
		return res, errs.New(errs.KindNotInstalled, "INS_NOT_INSTALLED", "plugin %q is not installed", id)
	}

	var snap *preserve.Snapshot
	if keepConfig {
		var err error
		if snap, err = s.snapshots.Capture(dir, spec.Patterns, nil); err != nil {
			return res, err
		}
	}
	if err := os.MkdirAll(store.StagingRoot(s.pluginsDir), 0o755); err != nil {
		_ = snap.Discard()
		return res, fmt.Errorf("INS_STAGE_CREATE: %w", err)
	}
	trash := filepath.Join(store.StagingRoot(s.pluginsDir), fmt.Sprintf("%s-%d.rm", id, time.Now().UnixNano()))
	op := store.PendingOp{Plugin: id, Op: "uninstall", Phase: store.PhaseRemoving, Dir: dir, Backup: trash, KeepFiles: keepConfig, StartedAt: time.Now().UTC()}
	if snap != nil {
		op.Snapshot = snap.Dir
	}
	if err := s.journal.Begin(op); err != nil {
		_ = snap.Discard()
		return res, err
	}
	_ = s.audit.Log(audit.Event{Operation: "uninstall", Phase: "start", Status: "ok", Plugin: id, Fields: map[string]string{"keep_config": fmt.Sprint(keepConfig)}})

	if err := os.Rename(dir, trash); err != nil {
		_ = snap.Discard()
		_ = s.journal.Finish(id)
		return res, fmt.Errorf("INS_UNINSTALL: %w", err)
	}
	if keepConfig {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, errs.Wrap(errs.KindPreservation, "PRE_RESTORE", err)
		}
		if err := s.restore(id, dir, snap); err != nil {
			return res, err
		}
		res.Preserved = snap.Paths()
	}
	if err := os.RemoveAll(trash); err != nil {
		s.logger.Warn("remove old plugin dir failed", "plugin", id, "path", trash, "error", err)
	}
	_ = snap.Discard()
	if err := s.journal.Finish(id); err != nil {
		return res, err
	}
	_ = s.audit.Log(audit.Event{Operation: "uninstall", Phase: "commit", Status: "ok", Plugin: id, Fields: map[string]string{"preserved": fmt.Sprint(len(res.Preserved))}})
	return res, nil
}
