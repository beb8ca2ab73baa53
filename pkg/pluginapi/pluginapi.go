// Package pluginapi describes the contract a board plugin must satisfy to be
// loaded by the scoreboard renderer. boardpm checks it statically; plugin
// code is never executed.
package pluginapi

import "sort"

// Capability names a hook a plugin's board class implements.
type Capability string

const (
	CapRender         Capability = "render"
	CapValidateConfig Capability = "validate_config"
	CapCleanup        Capability = "cleanup"
	CapPluginInfo     Capability = "get_plugin_info"
)

// RequiredCapabilities must be present on every plugin.
var RequiredCapabilities = []Capability{CapRender}

// OptionalCapabilities have working defaults in the base plugin class.
var OptionalCapabilities = []Capability{CapValidateConfig, CapCleanup, CapPluginInfo}

// Entry points the loader imports, relative to the plugin directory.
const (
	EntryModule  = "__init__.py"
	BoardModule  = "board.py"
	SampleConfig = "config.sample.json"
	// ManifestFile optionally declares metadata without Python parsing.
	ManifestFile = "plugin.toml"
)

// ExpectedFiles are the files a well-formed plugin ships.
var ExpectedFiles = []string{BoardModule, EntryModule, SampleConfig}

// Info is the metadata a plugin declares about itself.
type Info struct {
	ID            string       `json:"id,omitempty"`
	Name          string       `json:"name,omitempty"`
	Version       string       `json:"version,omitempty"`
	Description   string       `json:"description,omitempty"`
	Author        string       `json:"author,omitempty"`
	MinAppVersion string       `json:"minAppVersion,omitempty"`
	Requirements  []string     `json:"requirements,omitempty"`
	PreserveFiles []string     `json:"preserveFiles,omitempty"`
	Capabilities  []Capability `json:"capabilities,omitempty"`
}

func Known(c Capability) bool {
	for _, k := range RequiredCapabilities {
		if k == c {
			return true
		}
	}
	for _, k := range OptionalCapabilities {
		if k == c {
			return true
		}
	}
	return false
}

// Missing returns the required capabilities absent from have, sorted.
func Missing(have []Capability) []Capability {
	set := make(map[Capability]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	var out []Capability
	for _, c := range RequiredCapabilities {
		if _, ok := set[c]; !ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
