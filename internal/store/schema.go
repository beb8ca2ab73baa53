package store

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

const (
	manifestSchemaURL = "https://boardpm.dev/schema/manifest.schema.json"
	lockSchemaURL     = "https://boardpm.dev/schema/lock.schema.json"
)

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	files := map[string]string{
		manifestSchemaURL: "schema/manifest.schema.json",
		lockSchemaURL:     "schema/lock.schema.json",
	}
	for url, file := range files {
		blob, err := schemaFS.ReadFile(file)
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(blob))
		if err != nil {
			schemaErr = fmt.Errorf("parse %s: %w", file, err)
			return
		}
		if err := c.AddResource(url, doc); err != nil {
			schemaErr = fmt.Errorf("add %s: %w", file, err)
			return
		}
	}
	schemas = map[string]*jsonschema.Schema{}
	for url := range files {
		s, err := c.Compile(url)
		if err != nil {
			schemaErr = fmt.Errorf("compile %s: %w", url, err)
			return
		}
		schemas[url] = s
	}
}

func parseInstance(blob []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(blob))
}

// validate checks a decoded JSON instance against one of the embedded schemas.
func validate(url string, inst any) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	return schemas[url].Validate(inst)
}
