// SPDX-License-Identifier: AGPL-3.0-or-later

package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ruleFileSchema is the structural contract for a rulefile. Semantic checks
// (duplicate outputs, dangling inputs, cycles) live in the registry and graph
// layers; this catches shape errors with positional messages before decoding.
const ruleFileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "shell"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "input": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "output": {
            "type": "array",
            "items": {
              "oneOf": [
                {"type": "string", "minLength": 1},
                {
                  "type": "object",
                  "additionalProperties": false,
                  "required": ["path"],
                  "properties": {
                    "path": {"type": "string", "minLength": 1},
                    "temporary": {"type": "boolean"}
                  }
                }
              ]
            }
          },
          "resources": {
            "type": "object",
            "additionalProperties": {
              "type": ["integer", "string", "boolean"]
            }
          },
          "modules": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "shell": {"type": "string", "minLength": 1}
        }
      }
    },
    "default_targets": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "env": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// Validator checks rulefile documents against the structural schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded rulefile schema.
func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString("rulefile.schema.json", ruleFileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile rulefile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateFile reads the YAML document at path and validates its structure.
func (v *Validator) ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rulefile: %w", err)
	}
	return v.Validate(data)
}

// Validate checks a raw YAML rulefile document.
func (v *Validator) Validate(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse rulefile: %w", err)
	}

	// The schema engine expects JSON-decoded values, so round-trip the
	// YAML document through JSON before validating.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert rulefile document: %w", err)
	}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("convert rulefile document: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("rulefile schema violation: %w", err)
	}
	return nil
}
