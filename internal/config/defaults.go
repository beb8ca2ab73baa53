package config

import "time"

const (
	SchemaVersion = 1

	DefaultConfigFile = "boardpm.toml"
)

// DefaultPreserveFiles apply to plugins that declare no preserve_files.
var DefaultPreserveFiles = []string{"config.json", "*.csv", "data/*", "custom_*"}

const (
	defaultWorkers  = 4
	defaultTimeout  = 2 * time.Minute
	defaultRetries  = 3
	defaultBackoff  = 500 * time.Millisecond
	defaultCacheTTL = time.Minute
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Paths: PathsConfig{
			PluginsDir: "src/boards/plugins",
			Manifest:   "plugins.json",
			Lockfile:   "plugins.lock.json",
			StateDir:   ".boardpm",
		},
		Sync: SyncConfig{
			Workers:  defaultWorkers,
			Timeout:  defaultTimeout.String(),
			Retries:  defaultRetries,
			Backoff:  defaultBackoff.String(),
			CacheTTL: defaultCacheTTL.String(),
		},
		Preserve: PreserveConfig{
			Defaults: append([]string(nil), DefaultPreserveFiles...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
