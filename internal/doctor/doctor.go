package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"boardpm/internal/config"
	"boardpm/internal/source"
	"boardpm/internal/store"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Plugin  string `json:"plugin,omitempty"`
	Message string `json:"message"`
}

type Report struct {
	Healthy    bool      `json:"healthy"`
	GitVersion string    `json:"gitVersion,omitempty"`
	Findings   []Finding `json:"findings"`
}

type Service struct {
	// ConfigPath is checked only when it exists; running on defaults is fine.
	ConfigPath string
	Paths      config.Resolved
	Git        source.Git
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}
	report := Report{}
	add := func(code, level, plugin, format string, args ...any) {
		findings = append(findings, Finding{Code: code, Level: level, Plugin: plugin, Message: fmt.Sprintf(format, args...)})
	}

	if s.Git == nil {
		add("DOC_GIT_UNAVAILABLE", "error", "", "no git transport configured")
	} else if v, err := s.Git.Version(ctx); err != nil {
		add("DOC_GIT_UNAVAILABLE", "error", "", "git is not usable: %v", err)
	} else {
		report.GitVersion = v
	}

	if s.ConfigPath != "" {
		if _, err := os.Stat(s.ConfigPath); err == nil {
			if _, err := config.Load(s.ConfigPath); err != nil {
				add("DOC_CONFIG_INVALID", "error", "", "%v", err)
			}
		}
	}

	if info, err := os.Stat(s.Paths.PluginsDir); err != nil {
		add("DOC_PLUGINS_DIR_MISSING", "warn", "", "plugins directory %s: %v", s.Paths.PluginsDir, err)
	} else if !info.IsDir() {
		add("DOC_PLUGINS_DIR_MISSING", "error", "", "%s is not a directory", s.Paths.PluginsDir)
	}

	desired, derr := store.LoadDesired(s.Paths.Manifest)
	if derr != nil {
		add("DOC_MANIFEST_INVALID", "error", "", "%v", derr)
	}
	lock, lerr := store.LoadLock(s.Paths.Lockfile)
	if lerr != nil {
		add("DOC_LOCK_INVALID", "error", "", "%v", lerr)
	}
	if derr == nil && lerr == nil {
		for _, e := range desired.Plugins {
			if _, ok := store.FindLock(lock, e.ID); !ok {
				add("DOC_LOCK_ENTRY_MISSING", "warn", e.ID, "%s is desired but not locked; run sync", e.ID)
			}
			if _, err := os.Stat(s.dir(e.ID)); os.IsNotExist(err) {
				add("DOC_PLUGIN_MISSING", "warn", e.ID, "%s is desired but %s does not exist", e.ID, s.dir(e.ID))
			}
		}
		orphans := store.Lockfile{Version: lock.Version, Plugins: append([]store.LockEntry(nil), lock.Plugins...)}
		for _, id := range store.PruneLock(&orphans, desired) {
			add("DOC_LOCK_ORPHAN", "warn", id, "%s is locked but no longer desired; sync will remove it", id)
		}
	}

	pending, err := store.OpenJournal(s.Paths.StateDir).Pending()
	if err != nil {
		add("DOC_STATE_INVALID", "error", "", "%v", err)
	}
	for _, op := range pending {
		add("DOC_JOURNAL_PENDING", "warn", op.Plugin, "interrupted %s of %s (phase %s) will be recovered by the next add, rm or sync", op.Op, op.Plugin, op.Phase)
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	report.Healthy = healthy
	report.Findings = findings
	return report
}

func (s *Service) dir(id string) string {
	return filepath.Join(s.Paths.PluginsDir, id)
}
