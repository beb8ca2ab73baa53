// Package metadata reads what a plugin declares about itself without
// executing any of its code.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"boardpm/internal/errs"
	"boardpm/internal/store"
	"boardpm/pkg/pluginapi"
)

// Metadata is a plugin's self-declared information.
type Metadata struct {
	pluginapi.Info
	// Source is the file the metadata was read from, empty if none.
	Source string `json:"source,omitempty"`
	// DeclaredCapabilities is true when capabilities came from plugin.toml
	// rather than source scanning.
	DeclaredCapabilities bool     `json:"declaredCapabilities,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
}

type tomlManifest struct {
	PluginID      string   `toml:"plugin_id"`
	Name          string   `toml:"name"`
	Version       string   `toml:"version"`
	Description   string   `toml:"description"`
	Author        string   `toml:"author"`
	MinAppVersion string   `toml:"min_app_version"`
	Requirements  []string `toml:"requirements"`
	PreserveFiles []string `toml:"preserve_files"`
	Capabilities  []string `toml:"capabilities"`
}

// Read loads plugin.toml if present, else the literal assignments in
// __init__.py. A plugin with neither yields empty metadata.
func Read(pluginDir string) (Metadata, error) {
	var md Metadata
	blob, err := os.ReadFile(filepath.Join(pluginDir, pluginapi.ManifestFile))
	switch {
	case err == nil:
		var doc tomlManifest
		if err := toml.Unmarshal(blob, &doc); err != nil {
			return Metadata{}, errs.Wrap(errs.KindInvalidPlugin, "META_PARSE", fmt.Errorf("%s: %w", pluginapi.ManifestFile, err))
		}
		md.Source = pluginapi.ManifestFile
		md.ID = doc.PluginID
		md.Name = doc.Name
		md.Version = doc.Version
		md.Description = doc.Description
		md.Author = doc.Author
		md.MinAppVersion = doc.MinAppVersion
		md.Requirements = doc.Requirements
		md.PreserveFiles = doc.PreserveFiles
		for _, c := range doc.Capabilities {
			capability := pluginapi.Capability(c)
			if !pluginapi.Known(capability) {
				md.Warnings = append(md.Warnings, fmt.Sprintf("unknown capability %q", c))
				continue
			}
			md.Capabilities = append(md.Capabilities, capability)
		}
		md.DeclaredCapabilities = len(doc.Capabilities) > 0
	case errors.Is(err, os.ErrNotExist):
		src, err := os.ReadFile(filepath.Join(pluginDir, pluginapi.EntryModule))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Metadata{}, errs.Wrap(errs.KindInvalidPlugin, "META_READ", err)
		}
		if err == nil {
			md.Source = pluginapi.EntryModule
			md.Warnings = append(md.Warnings, applyAssignments(&md.Info, parseAssignments(string(src)))...)
		}
	default:
		return Metadata{}, errs.Wrap(errs.KindInvalidPlugin, "META_READ", err)
	}

	if !md.DeclaredCapabilities {
		caps, err := detectCapabilities(pluginDir)
		if err != nil {
			return Metadata{}, errs.Wrap(errs.KindInvalidPlugin, "META_READ", err)
		}
		md.Capabilities = caps
	}
	return md, nil
}

// RequireID returns the declared plugin id, failing when it is absent or not
// usable as a directory name.
func RequireID(md Metadata) (string, error) {
	if md.ID == "" {
		return "", errs.New(errs.KindInvalidPlugin, "META_NO_ID", "plugin declares no plugin_id; pass --name")
	}
	if !store.ValidID(md.ID) {
		return "", errs.New(errs.KindInvalidPlugin, "META_BAD_ID", "declared plugin_id %q is not a valid id", md.ID)
	}
	return md.ID, nil
}

// CheckCapabilities fails when a required capability is missing.
func CheckCapabilities(md Metadata) error {
	if missing := pluginapi.Missing(md.Capabilities); len(missing) > 0 {
		return errs.New(errs.KindInvalidPlugin, "META_CAPABILITY", "plugin is missing required capabilities %v", missing)
	}
	return nil
}

// MissingFiles lists the expected plugin files absent from pluginDir.
func MissingFiles(pluginDir string) []string {
	var out []string
	for _, name := range pluginapi.ExpectedFiles {
		if _, err := os.Stat(filepath.Join(pluginDir, name)); err != nil {
			out = append(out, name)
		}
	}
	return out
}

var defPattern = regexp.MustCompile(`(?m)^[ \t]*def[ \t]+([A-Za-z_][A-Za-z0-9_]*)[ \t]*\(`)

func detectCapabilities(pluginDir string) ([]pluginapi.Capability, error) {
	found := map[pluginapi.Capability]struct{}{}
	for _, name := range []string{pluginapi.BoardModule, pluginapi.EntryModule} {
		src, err := os.ReadFile(filepath.Join(pluginDir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, m := range defPattern.FindAllStringSubmatch(string(src), -1) {
			if c := pluginapi.Capability(m[1]); pluginapi.Known(c) {
				found[c] = struct{}{}
			}
		}
	}
	out := make([]pluginapi.Capability, 0, len(found))
	for c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
