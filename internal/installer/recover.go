package installer

import (
	"context"
	"fmt"
	"os"

	"boardpm/internal/audit"
	"boardpm/internal/fsutil"
	"boardpm/internal/preserve"
	"boardpm/internal/store"
)

// Recover finishes or undoes operations a previous process left in the
// journal. Anything before the swap is rolled back; anything after it is
// rolled forward. Entries whose plugin lock is held belong to a live run and
// are left alone. It returns one line per handled plugin.
func (s *Service) Recover(ctx context.Context) ([]string, error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return nil, err
	}
	var notes []string
	for _, op := range pending {
		if err := ctx.Err(); err != nil {
			return notes, err
		}
		lock, ok, err := fsutil.TryLock(store.LockPath(s.journal.Root(), op.Plugin))
		if err != nil {
			return notes, err
		}
		if !ok {
			s.logger.Debug("journaled operation is still running elsewhere", "plugin", op.Plugin, "op", op.Op)
			continue
		}
		note, err := s.RecoverPlugin(op.Plugin)
		_ = lock.Release()
		if err != nil {
			return notes, err
		}
		if note != "" {
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// RecoverPlugin handles the journal entry for id, if one is left. The caller
// must hold id's plugin lock. The record is reread so an operation that
// finished in the meantime is not replayed.
func (s *Service) RecoverPlugin(id string) (string, error) {
	op, ok, err := s.journal.Lookup(id)
	if err != nil || !ok {
		return "", err
	}
	note, err := s.recoverOne(op)
	if err != nil {
		return "", fmt.Errorf("INS_RECOVER %s: %w", op.Plugin, err)
	}
	if err := s.journal.Finish(op.Plugin); err != nil {
		return "", err
	}
	s.logger.Warn("recovered interrupted operation", "plugin", op.Plugin, "op", op.Op, "phase", op.Phase, "outcome", note)
	_ = s.audit.Log(audit.Event{Operation: "recover", Phase: op.Phase, Status: "ok", Plugin: op.Plugin, Message: note})
	return fmt.Sprintf("%s: %s %s", op.Plugin, op.Op, note), nil
}

func (s *Service) recoverOne(op store.PendingOp) (string, error) {
	exists := func(p string) bool {
		if p == "" {
			return false
		}
		ok, _ := fsutil.Exists(p)
		return ok
	}
	removeStaging := func() {
		if op.Staging != "" {
			_ = os.RemoveAll(op.Staging)
		}
	}
	discard := func() {
		if op.Snapshot != "" {
			_ = os.RemoveAll(op.Snapshot)
		}
	}

	switch op.Op {
	case "install":
		removeStaging()
		if exists(op.Dir) {
			return "completed", nil
		}
		return "rolled back", nil

	case "update":
		switch {
		case op.Phase == store.PhasePlaced || (op.Phase == store.PhaseSwap && exists(op.Backup) && exists(op.Dir)):
			if err := s.restoreFrom(op); err != nil {
				return "", err
			}
			_ = os.RemoveAll(op.Backup)
			removeStaging()
			discard()
			return "completed", nil
		case op.Phase == store.PhaseSwap && exists(op.Backup):
			if err := os.Rename(op.Backup, op.Dir); err != nil {
				return "", err
			}
			removeStaging()
			discard()
			return "rolled back", nil
		default:
			removeStaging()
			discard()
			return "rolled back", nil
		}

	case "uninstall":
		if !exists(op.Backup) {
			discard()
			return "rolled back", nil
		}
		if op.KeepFiles {
			if err := os.MkdirAll(op.Dir, 0o755); err != nil {
				return "", err
			}
			if err := s.restoreFrom(op); err != nil {
				return "", err
			}
		}
		_ = os.RemoveAll(op.Backup)
		discard()
		return "completed", nil
	}
	return "", fmt.Errorf("unknown journaled operation %q", op.Op)
}

func (s *Service) restoreFrom(op store.PendingOp) error {
	if op.Snapshot == "" {
		return nil
	}
	if ok, _ := fsutil.Exists(op.Snapshot); !ok {
		return nil
	}
	snap, err := preserve.Load(op.Snapshot)
	if err != nil {
		return err
	}
	return s.restore(op.Plugin, op.Dir, snap)
}
