package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
)

// Journal phases.
const (
	PhaseStaged   = "staged"
	PhaseSwap     = "swap"
	PhasePlaced   = "placed"
	PhaseRemoving = "removing"
)

func EnsureLayout(root string) error {
	for _, d := range []string{root, SnapshotRoot(root), LocksRoot(root)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Journal persists in-flight destructive operations to state.toml. Writers
// hold an in-process mutex and the state.lock file lock, so separate boardpm
// processes never lose each other's records.
type Journal struct {
	mu   sync.Mutex
	root string
}

func OpenJournal(root string) *Journal {
	return &Journal{root: root}
}

// Root is the state directory the journal lives in.
func (j *Journal) Root() string {
	return j.root
}

// Begin records op, replacing any previous record for the same plugin.
func (j *Journal) Begin(op PendingOp) error {
	return j.update(func(st *State) (bool, error) {
		st.Pending = removeOp(st.Pending, op.Plugin)
		st.Pending = append(st.Pending, op)
		return true, nil
	})
}

// Advance moves the plugin's record to phase, letting mutate adjust it first.
func (j *Journal) Advance(plugin, phase string, mutate func(*PendingOp)) error {
	return j.update(func(st *State) (bool, error) {
		for i := range st.Pending {
			if st.Pending[i].Plugin != plugin {
				continue
			}
			if mutate != nil {
				mutate(&st.Pending[i])
			}
			st.Pending[i].Phase = phase
			return true, nil
		}
		return false, fmt.Errorf("DOC_STATE_JOURNAL: no pending operation for %q", plugin)
	})
}

func (j *Journal) Finish(plugin string) error {
	return j.update(func(st *State) (bool, error) {
		before := len(st.Pending)
		st.Pending = removeOp(st.Pending, plugin)
		return len(st.Pending) != before, nil
	})
}

// Pending reads the journal without locking; saves are atomic renames.
func (j *Journal) Pending() ([]PendingOp, error) {
	st, err := j.load()
	if err != nil {
		return nil, err
	}
	return st.Pending, nil
}

// Lookup returns the pending record for plugin, if any.
func (j *Journal) Lookup(plugin string) (PendingOp, bool, error) {
	pending, err := j.Pending()
	if err != nil {
		return PendingOp{}, false, err
	}
	for _, op := range pending {
		if op.Plugin == plugin {
			return op, true, nil
		}
	}
	return PendingOp{}, false, nil
}

// update runs one read-modify-write cycle under both locks. fn reports
// whether it changed anything worth saving.
func (j *Journal) update(fn func(*State) (bool, error)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := EnsureLayout(j.root); err != nil {
		return err
	}
	lock, err := fsutil.AcquireLock(context.Background(), StateLockPath(j.root))
	if err != nil {
		return err
	}
	defer lock.Release()
	st, err := j.load()
	if err != nil {
		return err
	}
	changed, err := fn(&st)
	if err != nil || !changed {
		return err
	}
	return j.save(st)
}

func (j *Journal) load() (State, error) {
	blob, err := os.ReadFile(StatePath(j.root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{Version: StateVersion}, nil
		}
		return State{}, err
	}
	var st State
	if err := toml.Unmarshal(blob, &st); err != nil {
		return State{}, errs.Wrap(errs.KindConfiguration, "DOC_STATE_PARSE", err)
	}
	if st.Version == 0 {
		st.Version = StateVersion
	}
	if st.Version != StateVersion {
		return State{}, errs.New(errs.KindConfiguration, "DOC_STATE_VERSION", "unsupported state version %d", st.Version)
	}
	for _, op := range st.Pending {
		if op.Plugin == "" || op.Op == "" {
			return State{}, errs.New(errs.KindConfiguration, "DOC_STATE_SCHEMA", "pending entry missing plugin or op")
		}
	}
	return st, nil
}

func (j *Journal) save(st State) error {
	if err := EnsureLayout(j.root); err != nil {
		return err
	}
	st.Version = StateVersion
	sort.Slice(st.Pending, func(a, b int) bool {
		return st.Pending[a].Plugin < st.Pending[b].Plugin
	})
	blob, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("DOC_STATE_ENCODE: %w", err)
	}
	return fsutil.AtomicWrite(StatePath(j.root), blob, 0o644)
}

func removeOp(ops []PendingOp, plugin string) []PendingOp {
	out := ops[:0]
	for _, op := range ops {
		if op.Plugin != plugin {
			out = append(out, op)
		}
	}
	return out
}
