package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boardpm/internal/config"
	"boardpm/internal/errs"
	"boardpm/internal/store"
	syncsvc "boardpm/internal/sync"
	"boardpm/internal/testutil"
)

// workspace writes a boardpm.toml rooted in a temp dir and returns its path.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.PluginsDir = "plugins"
	cfg.Sync.CacheTTL = "0s"
	cfgPath = filepath.Join(dir, "boardpm.toml")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	return dir, cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCmdIncludesCoreCommands(t *testing.T) {
	cmd := newRootCmd()
	got := map[string]bool{}
	for _, c := range cmd.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{"list", "add", "rm", "sync", "doctor", "version"} {
		if !got[want] {
			t.Fatalf("expected command %q", want)
		}
	}
}

func TestLogLevelFlagRejectsUnknownValue(t *testing.T) {
	_, err := run(t, "--log-level", "chatty", "version")
	if err == nil || !strings.Contains(err.Error(), "debug|info|warn|error") {
		t.Fatalf("expected enum error, got %v", err)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "--json", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if info["version"] != version {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&exitError{code: 1, msg: "x"}, 1},
		{errs.New(errs.KindConfiguration, "CONFIG_PARSE", "bad"), 2},
		{errs.New(errs.KindPreservation, "PRE_RESTORE", "bad"), 3},
		{errs.New(errs.KindCanceled, "RUN_CANCELED", "stop"), 130},
		{errors.New("plain"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMissingExplicitConfigIsConfigurationError(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "list")
	if exitCode(err) != 2 {
		t.Fatalf("expected exit 2, got %d (%v)", exitCode(err), err)
	}
}

func TestListEmptyManifest(t *testing.T) {
	_, cfg := workspace(t)
	out, err := run(t, "--config", cfg, "list", "--offline")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "no plugins in manifest") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMalformedManifestExitsTwo(t *testing.T) {
	dir, cfg := workspace(t)
	if err := os.WriteFile(filepath.Join(dir, "plugins.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := run(t, "--config", cfg, "sync")
	if exitCode(err) != 2 || !strings.Contains(err.Error(), "DOC_MANIFEST_PARSE") {
		t.Fatalf("expected DOC_MANIFEST_PARSE with exit 2, got %v", err)
	}
}

func TestAddListSyncRemoveEndToEnd(t *testing.T) {
	repo := testutil.NewRepo(t)
	repo.Commit("release", testutil.BoardFiles("holiday_countdown", "1.0.0"))
	repo.Tag("v1.0.0")
	dir, cfg := workspace(t)

	out, err := run(t, "--config", cfg, "add", repo.URL, "--ref", "v1.0.0")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, "added holiday_countdown") {
		t.Fatalf("unexpected add output %q", out)
	}

	out, err = run(t, "--config", cfg, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "holiday_countdown") || !strings.Contains(out, "current") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, err = run(t, "--config", cfg, "--json", "sync")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	var report syncsvc.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid sync json: %v", err)
	}
	if report.Mutations() != 0 || len(report.Unchanged) != 1 {
		t.Fatalf("expected no-op sync, got %+v", report)
	}

	pluginDir := filepath.Join(dir, "plugins", "holiday_countdown")
	if err := os.WriteFile(filepath.Join(pluginDir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	out, err = run(t, "--config", cfg, "rm", "holiday_countdown", "--keep-config")
	if err != nil {
		t.Fatalf("rm failed: %v", err)
	}
	if !strings.Contains(out, "kept config.json") {
		t.Fatalf("unexpected rm output %q", out)
	}
	desired, err := store.LoadDesired(filepath.Join(dir, "plugins.json"))
	if err != nil {
		t.Fatalf("load manifest failed: %v", err)
	}
	if len(desired.Plugins) != 0 {
		t.Fatalf("manifest should be empty, got %+v", desired.Plugins)
	}

	// a second rm clears the kept files; a third has nothing left to remove
	if _, err := run(t, "--config", cfg, "rm", "holiday_countdown"); err != nil {
		t.Fatalf("rm of leftover files failed: %v", err)
	}
	if _, err := os.Stat(pluginDir); !os.IsNotExist(err) {
		t.Fatalf("plugin dir should be gone, got %v", err)
	}
	_, err = run(t, "--config", cfg, "rm", "holiday_countdown")
	if !errors.Is(err, errs.KindNotInstalled) || exitCode(err) != 1 {
		t.Fatalf("expected NotInstalled with exit 1, got %v", err)
	}
}

func TestSyncFailureExitsOne(t *testing.T) {
	testutil.RequireGit(t)
	dir, cfg := workspace(t)
	m := store.Manifest{Plugins: []store.PluginEntry{{ID: "ghost", Source: "file://" + filepath.Join(dir, "missing.git")}}}
	if err := store.SaveDesired(filepath.Join(dir, "plugins.json"), m); err != nil {
		t.Fatalf("save manifest failed: %v", err)
	}
	out, err := run(t, "--config", cfg, "sync")
	if exitCode(err) != 1 || !strings.Contains(err.Error(), "SYNC_FAILED") {
		t.Fatalf("expected SYNC_FAILED, got %v", err)
	}
	if !strings.Contains(out, "failed: ghost:") {
		t.Fatalf("failure not reported:\n%s", out)
	}
}
