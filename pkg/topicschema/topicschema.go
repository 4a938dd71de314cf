// Package topicschema validates job inputs and extraction results against
// the JSON Schemas topics declare. Compiled schemas are cached process-wide
// keyed by schema text; topic schemas are static for the life of a deploy.
package topicschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var compiledSchemas sync.Map

// Compile returns the compiled form of a raw JSON Schema, cached.
func Compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := compiledSchemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiledSchemas.Store(key, schema)
	return schema, nil
}

// Validate checks a decoded JSON document against a raw schema. A nil or
// empty schema accepts anything.
func Validate(raw json.RawMessage, doc any) error {
	if len(raw) == 0 {
		return nil
	}
	schema, err := Compile(raw)
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
