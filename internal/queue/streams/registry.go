package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const researchJobSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "query", "mode", "max_iterations"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "thread_id": {"type": "string"},
    "thread_item_id": {"type": "string"},
    "query": {"type": "string", "minLength": 1},
    "mode": {"type": "string", "enum": ["research", "quick"]},
    "max_iterations": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`

// SchemaRegistry stores compiled JSON Schemas keyed by event type and payload version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*jsonschema.Schema
}

// NewSchemaRegistry returns a registry preloaded with the job payload schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[string]map[string]*jsonschema.Schema)}
	if err := r.Register(EventResearchRequested, "v1", []byte(researchJobSchema)); err != nil {
		return nil, err
	}
	return r, nil
}

// Register compiles and stores a JSON schema for the given event type and version.
func (r *SchemaRegistry) Register(eventType, version string, schemaBytes []byte) error {
	if eventType == "" {
		return fmt.Errorf("eventType must be provided")
	}
	if version == "" {
		return fmt.Errorf("version must be provided")
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("mem://%s/%s.json", eventType, version)
	if err := compiler.AddResource(url, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema %s/%s: %w", eventType, version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[eventType]; !ok {
		r.schemas[eventType] = make(map[string]*jsonschema.Schema)
	}
	r.schemas[eventType][version] = schema
	return nil
}

// Validate checks the payload against the registered schema for the event type and version.
func (r *SchemaRegistry) Validate(eventType, version string, payload json.RawMessage) error {
	r.mu.RLock()
	versions, ok := r.schemas[eventType]
	var schema *jsonschema.Schema
	if ok {
		schema = versions[version]
	}
	r.mu.RUnlock()
	if schema == nil {
		return fmt.Errorf("no schema registered for %s/%s", eventType, version)
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload failed %s/%s schema: %w", eventType, version, err)
	}
	return nil
}
