package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath returns the config file to load when --config is not
// given: $BOARDPM_CONFIG, else boardpm.toml in the working directory. The
// second result reports whether the file was chosen explicitly.
func DefaultConfigPath() (string, bool) {
	if v := os.Getenv("BOARDPM_CONFIG"); v != "" {
		return v, true
	}
	return DefaultConfigFile, false
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// Resolved holds absolute locations derived from a Config.
type Resolved struct {
	PluginsDir string
	Manifest   string
	Lockfile   string
	StateDir   string
}

// ResolvePaths expands ~ and anchors relative paths at base.
func ResolvePaths(cfg Config, base string) (Resolved, error) {
	var out Resolved
	for _, item := range []struct {
		in  string
		out *string
	}{
		{cfg.Paths.PluginsDir, &out.PluginsDir},
		{cfg.Paths.Manifest, &out.Manifest},
		{cfg.Paths.Lockfile, &out.Lockfile},
		{cfg.Paths.StateDir, &out.StateDir},
	} {
		expanded, err := ExpandPath(item.in)
		if err != nil {
			return Resolved{}, err
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(base, expanded)
		}
		*item.out = filepath.Clean(expanded)
	}
	return out, nil
}
