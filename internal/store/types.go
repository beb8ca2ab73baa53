package store

import "time"

const (
	ManifestVersion = 1
	LockVersion     = 1
	StateVersion    = 1
)

// Manifest is the human-edited desired-state document.
type Manifest struct {
	Version int           `json:"version" toml:"version" yaml:"version"`
	Plugins []PluginEntry `json:"plugins" toml:"plugins" yaml:"plugins"`
}

// PluginEntry declares one plugin that should be installed. An empty Ref
// tracks the remote's default branch.
type PluginEntry struct {
	ID     string `json:"id" toml:"id" yaml:"id"`
	Source string `json:"source" toml:"source" yaml:"source"`
	Ref    string `json:"ref,omitempty" toml:"ref,omitempty" yaml:"ref,omitempty"`
}

// Lockfile pins each desired plugin to the commit its ref resolved to.
type Lockfile struct {
	Version int         `json:"version" toml:"version" yaml:"version"`
	Plugins []LockEntry `json:"plugins" toml:"plugins" yaml:"plugins"`
}

type LockEntry struct {
	ID             string    `json:"id" toml:"id" yaml:"id"`
	Source         string    `json:"source" toml:"source" yaml:"source"`
	Ref            string    `json:"ref,omitempty" toml:"ref,omitempty" yaml:"ref,omitempty"`
	ResolvedCommit string    `json:"resolvedCommit" toml:"resolvedCommit" yaml:"resolvedCommit"`
	ResolvedAt     time.Time `json:"resolvedAt" toml:"resolvedAt" yaml:"resolvedAt"`
}

// State is the tool-private journal of destructive operations in flight.
type State struct {
	Version int         `toml:"version"`
	Pending []PendingOp `toml:"pending"`
}

// PendingOp records enough about an interrupted materialization to finish or
// undo it on the next run.
type PendingOp struct {
	Plugin    string    `toml:"plugin"`
	Op        string    `toml:"op"`
	Phase     string    `toml:"phase"`
	Dir       string    `toml:"dir"`
	Snapshot  string    `toml:"snapshot,omitempty"`
	Backup    string    `toml:"backup,omitempty"`
	Staging   string    `toml:"staging,omitempty"`
	KeepFiles bool      `toml:"keep_files,omitempty"`
	StartedAt time.Time `toml:"started_at"`
}
