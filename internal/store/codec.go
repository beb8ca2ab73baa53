package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a document encoding, chosen by file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported document extension %q", filepath.Ext(path))
	}
}

// toJSON normalizes a document of any supported format into plain JSON so a
// single schema and a single set of struct tags govern decoding. JSON input
// may carry comments and trailing commas.
func toJSON(format Format, blob []byte) ([]byte, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return []byte("{}"), nil
	}
	switch format {
	case FormatJSON:
		return jsonc.ToJSON(blob), nil
	case FormatTOML:
		var doc map[string]any
		if err := toml.Unmarshal(blob, &doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(blob, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(doc)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatJSON:
		blob, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(blob, '\n'), nil
	case FormatTOML:
		return toml.Marshal(v)
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}
