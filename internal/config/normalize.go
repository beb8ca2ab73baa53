package config

import "os"

func Normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Paths.PluginsDir == "" {
		cfg.Paths.PluginsDir = def.Paths.PluginsDir
	}
	if cfg.Paths.Manifest == "" {
		cfg.Paths.Manifest = def.Paths.Manifest
	}
	if cfg.Paths.Lockfile == "" {
		cfg.Paths.Lockfile = def.Paths.Lockfile
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = def.Paths.StateDir
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = def.Sync.Workers
	}
	if cfg.Sync.Timeout == "" {
		cfg.Sync.Timeout = def.Sync.Timeout
	}
	if cfg.Sync.Retries == 0 {
		cfg.Sync.Retries = def.Sync.Retries
	}
	if cfg.Sync.Backoff == "" {
		cfg.Sync.Backoff = def.Sync.Backoff
	}
	if cfg.Sync.CacheTTL == "" {
		cfg.Sync.CacheTTL = def.Sync.CacheTTL
	}
	if len(cfg.Preserve.Defaults) == 0 {
		cfg.Preserve.Defaults = def.Preserve.Defaults
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	return cfg
}

// ApplyEnv lets the environment override document locations, keeping the
// variable names the scoreboard's scripts already export.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("PLUGINS_DIR"); v != "" {
		cfg.Paths.PluginsDir = v
	}
	if v := getenv("PLUGINS_JSON"); v != "" {
		cfg.Paths.Manifest = v
	}
	if v := getenv("PLUGINS_LOCK"); v != "" {
		cfg.Paths.Lockfile = v
	}
	return cfg
}
