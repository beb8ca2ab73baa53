package sync

import (
	"context"
	gosync "sync"

	"boardpm/internal/fsutil"
	"boardpm/internal/store"
)

// pluginLocks serializes work on one plugin id within this process.
type pluginLocks struct {
	mu    gosync.Mutex
	byKey map[string]*gosync.Mutex
}

func (l *pluginLocks) get(id string) *gosync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byKey == nil {
		l.byKey = map[string]*gosync.Mutex{}
	}
	m, ok := l.byKey[id]
	if !ok {
		m = &gosync.Mutex{}
		l.byKey[id] = m
	}
	return m
}

// lock holds id against other goroutines and other boardpm processes and
// settles any journal entry left for id. The returned func releases both
// locks.
func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	m := s.locks.get(id)
	m.Lock()
	fl, err := fsutil.AcquireLock(ctx, store.LockPath(s.stateDir, id))
	if err != nil {
		m.Unlock()
		return nil, err
	}
	release := func() {
		if err := fl.Release(); err != nil {
			s.logger.Debug("release plugin lock failed", "plugin", id, "error", err)
		}
		m.Unlock()
	}
	// A run that died holding this lock may have left its journal entry
	// behind after our own Recover skipped it.
	if _, err := s.installer.RecoverPlugin(id); err != nil {
		release()
		return nil, err
	}
	return release, nil
}
