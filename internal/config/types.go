package config

// Config is the v1 tool configuration read from boardpm.toml.
type Config struct {
	Version  int            `toml:"version"`
	Paths    PathsConfig    `toml:"paths"`
	Sync     SyncConfig     `toml:"sync"`
	Preserve PreserveConfig `toml:"preserve"`
	Logging  LoggingConfig  `toml:"logging"`
}

// PathsConfig locates the plugins root, both declarative documents and the
// tool's private state directory. Relative paths resolve against the
// directory holding the config file, or the working directory when running
// on defaults.
type PathsConfig struct {
	PluginsDir string `toml:"plugins_dir" json:"pluginsDir"`
	Manifest   string `toml:"manifest" json:"manifest"`
	Lockfile   string `toml:"lockfile" json:"lockfile"`
	StateDir   string `toml:"state_dir" json:"stateDir"`
}

type SyncConfig struct {
	Workers  int    `toml:"workers" json:"workers"`
	Timeout  string `toml:"timeout" json:"timeout"`
	Retries  int    `toml:"retries" json:"retries"`
	Backoff  string `toml:"backoff" json:"backoff"`
	CacheTTL string `toml:"cache_ttl" json:"cacheTtl"`
}

type PreserveConfig struct {
	Defaults []string `toml:"defaults" json:"defaults"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
