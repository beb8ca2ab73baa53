package pluginapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMissingReportsRequiredCapabilities(t *testing.T) {
	if got := Missing(nil); len(got) != 1 || got[0] != CapRender {
		t.Fatalf("expected render to be missing, got %v", got)
	}
	if got := Missing([]Capability{CapCleanup, CapRender}); len(got) != 0 {
		t.Fatalf("expected nothing missing, got %v", got)
	}
}

func TestKnown(t *testing.T) {
	for _, c := range []Capability{CapRender, CapValidateConfig, CapCleanup, CapPluginInfo} {
		if !Known(c) {
			t.Fatalf("%s should be known", c)
		}
	}
	if Known("draw") {
		t.Fatalf("draw is not a capability")
	}
}

func TestInfoJSONTags(t *testing.T) {
	blob, err := json.Marshal(Info{ID: "x", MinAppVersion: "1.0.0", PreserveFiles: []string{"config.json"}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(blob)
	for _, key := range []string{`"id"`, `"minAppVersion"`, `"preserveFiles"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("expected key %s in %s", key, s)
		}
	}
	if strings.Contains(s, `"author"`) {
		t.Fatalf("empty fields should be omitted: %s", s)
	}
}
