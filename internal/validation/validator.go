// Package validation checks generation parameters against per-type JSON
// schemas before a job is admitted.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect parameter rejections.
var ErrValidation = errors.New("validation failed")

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json schema files from schemaDir. The file name
// (without extension) is the lowercase generation type it validates, so
// image_2d.json covers IMAGE_2D.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		genType := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		id := "https://pixelforge.dev/schemas/" + genType
		schemas[genType], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", genType, err)
		}
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("schema dir %q contains no schemas", schemaDir)
	}
	return &Validator{schemas: schemas}, nil
}

// ValidateParameters performs hard reject: an error means the request must
// not be admitted. Empty parameters validate as an empty object.
func (v *Validator) ValidateParameters(genType string, params json.RawMessage) error {
	schema, ok := v.schemas[strings.ToLower(genType)]
	if !ok {
		return fmt.Errorf("%w: no schema for type %q", ErrValidation, genType)
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
