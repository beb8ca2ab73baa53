package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"boardpm/internal/errs"
)

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return invalid("CONFIG_VERSION", "unsupported version %d", cfg.Version)
	}
	if cfg.Paths.PluginsDir == "" || cfg.Paths.Manifest == "" || cfg.Paths.Lockfile == "" || cfg.Paths.StateDir == "" {
		return invalid("CONFIG_PATHS", "plugins_dir, manifest, lockfile and state_dir are required")
	}
	if cfg.Paths.Manifest == cfg.Paths.Lockfile {
		return invalid("CONFIG_PATHS", "manifest and lockfile must be different files")
	}
	if cfg.Sync.Workers < 1 || cfg.Sync.Workers > 64 {
		return invalid("CONFIG_SYNC", "workers must be between 1 and 64, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.Retries < 1 || cfg.Sync.Retries > 10 {
		return invalid("CONFIG_SYNC", "retries must be between 1 and 10, got %d", cfg.Sync.Retries)
	}
	for name, raw := range map[string]string{"timeout": cfg.Sync.Timeout, "backoff": cfg.Sync.Backoff, "cache_ttl": cfg.Sync.CacheTTL} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return invalid("CONFIG_SYNC", "invalid %s %q: %v", name, raw, err)
		}
		if d < 0 {
			return invalid("CONFIG_SYNC", "%s must not be negative", name)
		}
	}
	for _, p := range cfg.Preserve.Defaults {
		if strings.TrimSpace(p) == "" {
			return invalid("CONFIG_PRESERVE", "empty preserve pattern")
		}
		if _, err := glob.Compile(p, '/'); err != nil {
			return invalid("CONFIG_PRESERVE", "invalid preserve pattern %q: %v", p, err)
		}
	}
	if _, ok := allowedLogLevels[strings.ToLower(cfg.Logging.Level)]; !ok {
		return invalid("CONFIG_LOGGING", "invalid log level %q", cfg.Logging.Level)
	}
	if _, ok := allowedLogFormats[strings.ToLower(cfg.Logging.Format)]; !ok {
		return invalid("CONFIG_LOGGING", "invalid log format %q", cfg.Logging.Format)
	}
	return nil
}

func invalid(code, format string, args ...any) error {
	return errs.New(errs.KindConfiguration, code, format, args...)
}

// Durations returns the parsed sync durations of a validated config.
func (c SyncConfig) Durations() (timeout, backoff, cacheTTL time.Duration) {
	timeout, _ = time.ParseDuration(c.Timeout)
	backoff, _ = time.ParseDuration(c.Backoff)
	cacheTTL, _ = time.ParseDuration(c.CacheTTL)
	return timeout, backoff, cacheTTL
}

// String renders the effective configuration for debug logs.
func (c Config) String() string {
	return fmt.Sprintf("plugins_dir=%s manifest=%s lockfile=%s state_dir=%s workers=%d",
		c.Paths.PluginsDir, c.Paths.Manifest, c.Paths.Lockfile, c.Paths.StateDir, c.Sync.Workers)
}
