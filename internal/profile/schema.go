package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "profile.schema.json"

// profileSchema accepts what Save writes. Unknown keys are allowed so that
// documents from newer versions still import.
const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "shortcuts"],
  "properties": {
    "name": {"type": "string"},
    "shortcuts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label", "description", "modifier", "keyCode", "category", "isEmpty"],
        "properties": {
          "label": {"type": "string"},
          "description": {"type": "string"},
          "modifier": {"type": "integer", "minimum": 0, "maximum": 255},
          "keyCode": {"type": "integer", "minimum": 0, "maximum": 255},
          "category": {"enum": ["COPY_PASTE", "EDIT", "NAVIGATION", "CUSTOM"]},
          "isEmpty": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, strings.NewReader(profileSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks that data is a well-formed profile document.
func Validate(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

// Parse validates data and decodes it.
func Parse(data []byte) (*Profile, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return &p, nil
}
