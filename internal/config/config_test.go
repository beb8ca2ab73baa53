package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boardpm/internal/errs"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Sync.Workers != 4 {
		t.Fatalf("expected 4 default workers, got %d", cfg.Sync.Workers)
	}
	if strings.Join(cfg.Preserve.Defaults, ",") != "config.json,*.csv,data/*,custom_*" {
		t.Fatalf("unexpected default preserve patterns %v", cfg.Preserve.Defaults)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boardpm.toml")
	cfg := DefaultConfig()
	cfg.Sync.Workers = 8
	cfg.Preserve.Defaults = []string{"settings/*.json"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Sync.Workers != 8 {
		t.Fatalf("expected workers=8, got %d", loaded.Sync.Workers)
	}
	if len(loaded.Preserve.Defaults) != 1 || loaded.Preserve.Defaults[0] != "settings/*.json" {
		t.Fatalf("unexpected preserve defaults %v", loaded.Preserve.Defaults)
	}
}

func TestLoadNormalizesPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardpm.toml")
	if err := os.WriteFile(path, []byte("[paths]\nplugins_dir = \"boards\"\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Paths.PluginsDir != "boards" || cfg.Paths.Manifest != "plugins.json" || cfg.Sync.Retries != 3 {
		t.Fatalf("unexpected normalized config %+v", cfg)
	}
}

func TestLoadInvalidTOMLIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardpm.toml")
	if err := os.WriteFile(path, []byte("version = ["), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, errs.KindConfiguration) || !strings.Contains(err.Error(), "CONFIG_PARSE") {
		t.Fatalf("expected CONFIG_PARSE configuration error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"workers", func(c *Config) { c.Sync.Workers = 0 }, "CONFIG_SYNC"},
		{"timeout", func(c *Config) { c.Sync.Timeout = "soon" }, "CONFIG_SYNC"},
		{"pattern", func(c *Config) { c.Preserve.Defaults = []string{"data/[a"} }, "CONFIG_PRESERVE"},
		{"level", func(c *Config) { c.Logging.Level = "chatty" }, "CONFIG_LOGGING"},
		{"same docs", func(c *Config) { c.Paths.Lockfile = c.Paths.Manifest }, "CONFIG_PATHS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.code) {
				t.Fatalf("expected %s error, got %v", tt.code, err)
			}
		})
	}
}

func TestLoadOrDefaultFallsBackWhenMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "boardpm.toml")
	cfg, base, err := LoadOrDefault(missing, false)
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.Paths.PluginsDir != "src/boards/plugins" || base == "" {
		t.Fatalf("unexpected defaults %+v base=%q", cfg.Paths, base)
	}
	if _, _, err := LoadOrDefault(missing, true); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("explicit config path must exist, got %v", err)
	}
}

func TestApplyEnvOverridesDocumentPaths(t *testing.T) {
	env := map[string]string{"PLUGINS_DIR": "/opt/plugins", "PLUGINS_LOCK": "locks/p.lock.json"}
	cfg := ApplyEnv(DefaultConfig(), func(k string) string { return env[k] })
	if cfg.Paths.PluginsDir != "/opt/plugins" || cfg.Paths.Lockfile != "locks/p.lock.json" || cfg.Paths.Manifest != "plugins.json" {
		t.Fatalf("unexpected paths %+v", cfg.Paths)
	}
}

func TestResolvePathsAnchorsRelativePaths(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths.PluginsDir = "/abs/plugins"
	got, err := ResolvePaths(cfg, base)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.PluginsDir != "/abs/plugins" {
		t.Fatalf("absolute path changed: %q", got.PluginsDir)
	}
	if got.Manifest != filepath.Join(base, "plugins.json") || got.StateDir != filepath.Join(base, ".boardpm") {
		t.Fatalf("relative paths not anchored: %+v", got)
	}
}
