package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"boardpm/internal/errs"
)

func TestLoadDesiredMissingFileIsEmpty(t *testing.T) {
	m, err := LoadDesired(filepath.Join(t.TempDir(), "plugins.json"))
	require.NoError(t, err)
	require.Equal(t, ManifestVersion, m.Version)
	require.Empty(t, m.Plugins)
}

func TestLoadDesiredToleratesJSONComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	doc := `{
  // managed boards
  "version": 1,
  "plugins": [
    {"id": "holiday_countdown", "source": "https://example.com/holiday.git", "ref": "v1.0.0"},
  ],
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	m, err := LoadDesired(path)
	require.NoError(t, err)
	require.Len(t, m.Plugins, 1)
	require.Equal(t, PluginEntry{ID: "holiday_countdown", Source: "https://example.com/holiday.git", Ref: "v1.0.0"}, m.Plugins[0])
}

func TestSaveDesiredRoundTripAllFormats(t *testing.T) {
	m := Manifest{Plugins: []PluginEntry{
		{ID: "zeta", Source: "https://example.com/zeta.git"},
		{ID: "alpha", Source: "/srv/git/alpha", Ref: "main"},
	}}
	for _, name := range []string{"plugins.json", "plugins.toml", "plugins.yaml", "plugins.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, SaveDesired(path, m))
			loaded, err := LoadDesired(path)
			require.NoError(t, err)
			require.Equal(t, ManifestVersion, loaded.Version)
			// declaration order is kept
			require.Equal(t, m.Plugins, loaded.Plugins)
		})
	}
}

func TestLoadDesiredRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		file string
		doc  string
		code string
	}{
		{"parse", "plugins.json", `{"version": `, "DOC_MANIFEST_PARSE"},
		{"unknown key", "plugins.json", `{"version": 1, "plugins": [], "extra": true}`, "DOC_MANIFEST_SCHEMA"},
		{"missing source", "plugins.json", `{"plugins": [{"id": "a"}]}`, "DOC_MANIFEST_SCHEMA"},
		{"bad id", "plugins.json", `{"plugins": [{"id": "Bad-Id", "source": "x"}]}`, "DOC_MANIFEST_SCHEMA"},
		{"duplicate", "plugins.json", `{"plugins": [{"id": "a", "source": "x"}, {"id": "a", "source": "y"}]}`, "DOC_MANIFEST_SCHEMA"},
		{"version", "plugins.json", `{"version": 7, "plugins": []}`, "DOC_MANIFEST_VERSION"},
		{"toml", "plugins.toml", "version = [", "DOC_MANIFEST_PARSE"},
		{"yaml", "plugins.yaml", "plugins: [", "DOC_MANIFEST_PARSE"},
		{"extension", "plugins.ini", "x", "DOC_MANIFEST_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))
			_, err := LoadDesired(path)
			require.Error(t, err)
			require.True(t, errors.Is(err, errs.KindConfiguration), "expected configuration error, got %v", err)
			require.True(t, strings.Contains(err.Error(), tt.code), "expected %s in %v", tt.code, err)
		})
	}
}

func TestUpsertAndRemoveDesired(t *testing.T) {
	var m Manifest
	UpsertDesired(&m, PluginEntry{ID: "a", Source: "x"})
	UpsertDesired(&m, PluginEntry{ID: "b", Source: "y"})
	UpsertDesired(&m, PluginEntry{ID: "a", Source: "z", Ref: "v2"})
	require.Len(t, m.Plugins, 2)
	got, ok := FindDesired(m, "a")
	require.True(t, ok)
	require.Equal(t, "z", got.Source)

	require.True(t, RemoveDesired(&m, "a"))
	require.False(t, RemoveDesired(&m, "a"))
	_, ok = FindDesired(m, "a")
	require.False(t, ok)
}

func TestUpsertRemoveDesiredProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOf(rapid.StringMatching(`[a-d]`)).Draw(t, "ids")
		var m Manifest
		for _, id := range ids {
			UpsertDesired(&m, PluginEntry{ID: id, Source: "src-" + id})
		}
		seen := map[string]bool{}
		for _, p := range m.Plugins {
			if seen[p.ID] {
				t.Fatalf("duplicate id %q after upserts", p.ID)
			}
			seen[p.ID] = true
		}
		before := len(m.Plugins)
		UpsertDesired(&m, PluginEntry{ID: "a", Source: "again"})
		UpsertDesired(&m, PluginEntry{ID: "a", Source: "again"})
		if _, ok := FindDesired(m, "a"); !ok {
			t.Fatalf("upserted id missing")
		}
		if !seen["a"] && len(m.Plugins) != before+1 || seen["a"] && len(m.Plugins) != before {
			t.Fatalf("upsert is not idempotent: before=%d after=%d", before, len(m.Plugins))
		}
		RemoveDesired(&m, "a")
		after := len(m.Plugins)
		RemoveDesired(&m, "a")
		if len(m.Plugins) != after {
			t.Fatalf("second remove changed the manifest")
		}
	})
}
