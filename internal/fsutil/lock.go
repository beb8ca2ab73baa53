package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileLock is an advisory lock held on a file for the lifetime of a single
// operation. It serializes separate boardpm processes; goroutines in the
// same process must use their own mutex in addition.
type FileLock struct {
	path string
	f    *os.File
}

const lockPollInterval = 50 * time.Millisecond

// AcquireLock blocks until the advisory lock on path is held or ctx is done.
func AcquireLock(ctx context.Context, path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("FS_LOCK: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("FS_LOCK: %w", err)
	}
	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("FS_LOCK: %s: %w", path, err)
		}
		if ok {
			return &FileLock{path: path, f: f}, nil
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// TryLock takes the advisory lock on path without waiting. ok is false when
// another holder has it.
func TryLock(path string) (lock *FileLock, ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("FS_LOCK: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("FS_LOCK: %w", err)
	}
	ok, err = tryLock(f)
	if err != nil || !ok {
		_ = f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("FS_LOCK: %s: %w", path, err)
		}
		return nil, false, nil
	}
	return &FileLock{path: path, f: f}, true, nil
}

func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}
