package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"boardpm/internal/errs"
	"boardpm/internal/fsutil"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidID reports whether id can name a plugin directory.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// LoadDesired reads the desired manifest. A missing file is an empty manifest.
func LoadDesired(path string) (Manifest, error) {
	var m Manifest
	if err := loadDocument(path, manifestSchemaURL, "DOC_MANIFEST", &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{Version: ManifestVersion}, nil
		}
		return Manifest{}, err
	}
	if m.Version == 0 {
		m.Version = ManifestVersion
	}
	if m.Version != ManifestVersion {
		return Manifest{}, errs.New(errs.KindConfiguration, "DOC_MANIFEST_VERSION", "%s: unsupported version %d", path, m.Version)
	}
	seen := map[string]struct{}{}
	for _, p := range m.Plugins {
		if !ValidID(p.ID) {
			return Manifest{}, errs.New(errs.KindConfiguration, "DOC_MANIFEST_SCHEMA", "%s: invalid plugin id %q", path, p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return Manifest{}, errs.New(errs.KindConfiguration, "DOC_MANIFEST_SCHEMA", "%s: duplicate plugin id %q", path, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return m, nil
}

// SaveDesired rewrites the whole manifest in the format implied by path.
// Declaration order is kept; comments in the previous file are lost.
func SaveDesired(path string, m Manifest) error {
	m.Version = ManifestVersion
	if m.Plugins == nil {
		m.Plugins = []PluginEntry{}
	}
	return saveDocument(path, "DOC_MANIFEST", m)
}

// UpsertDesired replaces the entry with the same id or appends a new one.
func UpsertDesired(m *Manifest, entry PluginEntry) {
	for i := range m.Plugins {
		if m.Plugins[i].ID == entry.ID {
			m.Plugins[i] = entry
			return
		}
	}
	m.Plugins = append(m.Plugins, entry)
}

// RemoveDesired drops the entry for id. Unknown ids are a no-op.
func RemoveDesired(m *Manifest, id string) bool {
	for i := range m.Plugins {
		if m.Plugins[i].ID == id {
			m.Plugins = append(m.Plugins[:i], m.Plugins[i+1:]...)
			return true
		}
	}
	return false
}

func FindDesired(m Manifest, id string) (PluginEntry, bool) {
	for _, p := range m.Plugins {
		if p.ID == id {
			return p, true
		}
	}
	return PluginEntry{}, false
}

func loadDocument(path, schemaURL, code string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return errs.Wrap(errs.KindConfiguration, code+"_READ", err)
	}
	format, err := FormatFor(path)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_FORMAT", err)
	}
	normalized, err := toJSON(format, blob)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_PARSE", fmt.Errorf("%s: %w", path, err))
	}
	inst, err := parseInstance(normalized)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_PARSE", fmt.Errorf("%s: %w", path, err))
	}
	if err := validate(schemaURL, inst); err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_SCHEMA", fmt.Errorf("%s: %w", path, err))
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_PARSE", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

func saveDocument(path, code string, v any) error {
	format, err := FormatFor(path)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, code+"_FORMAT", err)
	}
	blob, err := encode(format, v)
	if err != nil {
		return fmt.Errorf("%s_ENCODE: %w", code, err)
	}
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, blob) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}
