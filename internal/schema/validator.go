package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.schema.yaml
var pipelineSchemaYAML []byte

const pipelineSchemaURI = "litepipe://schemas/pipeline.schema.json"

// Validator handles JSON schema validation of pipeline documents
type Validator struct {
	pipelineSchema *jsonschema.Schema
}

// NewValidator compiles the embedded pipeline schema
func NewValidator() (*Validator, error) {
	pipelineSchema, err := compileSchema(pipelineSchemaURI, pipelineSchemaYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline schema: %w", err)
	}
	return &Validator{pipelineSchema: pipelineSchema}, nil
}

// ValidateDescriptor validates a pipeline document. The document must be
// JSON-compatible (see loader.ToJSONCompatible).
func (v *Validator) ValidateDescriptor(doc interface{}) error {
	if v.pipelineSchema == nil {
		return fmt.Errorf("pipeline schema not loaded")
	}
	return v.pipelineSchema.Validate(doc)
}

// compileSchema compiles a schema file authored in YAML or JSON
func compileSchema(uri string, data []byte) (*jsonschema.Schema, error) {
	// Parse YAML to interface{} (supports both YAML and JSON)
	var schemaData interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(uri, strings.NewReader(string(jsonData))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return schema, nil
}
