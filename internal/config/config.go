package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
)

// LoadOrDefault loads path when it exists. A missing file yields the default
// config unless required is set, in which case it is an error. The returned
// directory is where relative paths in the config are anchored.
func LoadOrDefault(path string, required bool) (Config, string, error) {
	cfg, err := Load(path)
	if err == nil {
		abs, absErr := filepath.Abs(filepath.Dir(path))
		if absErr != nil {
			return Config{}, "", absErr
		}
		return cfg, abs, nil
	}
	if !errors.Is(err, os.ErrNotExist) || required {
		return Config{}, "", err
	}
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		return Config{}, "", wdErr
	}
	return DefaultConfig(), wd, nil
}

func Load(path string) (Config, error) {
	if path == "" {
		path, _ = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.KindConfiguration, "CONFIG_PARSE", fmt.Errorf("%s: %w", path, err))
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path, _ = DefaultConfigPath()
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("CONFIG_ENCODE: %w", err)
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}
