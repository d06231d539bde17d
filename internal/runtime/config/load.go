package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
	"github.com/drblury/vuflow/internal/runtime/scenario"
)

//go:embed schema.json
var schemaSource []byte

const schemaURL = "vuflow://schema.json"

// Document is a parsed run file.
type Document struct {
	Config   Config        `yaml:"config"`
	Scenario scenario.Spec `yaml:"scenario"`
}

// Load reads and parses a run file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse validates a YAML (or JSON) run file against the embedded schema,
// decodes it and applies config defaults.
func Parse(data []byte) (*Document, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode run file: %w", err)
	}
	doc.Config.ApplyDefaults()
	if err := errspkg.NewConfigValidationError(doc.Config.Validate()); err != nil {
		return nil, err
	}
	return &doc, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return compiler.Compile(schemaURL)
}

// validateSchema checks the raw document. YAML is decoded generically and
// round-tripped through JSON so numbers and maps have the shapes the
// validator expects.
func validateSchema(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode run file: %w", err)
	}
	if raw == nil {
		return errspkg.ErrConfigRequired
	}
	encoded, err := jsoncodec.Marshal(raw)
	if err != nil {
		return fmt.Errorf("run file is not representable as JSON: %w", err)
	}
	var doc any
	if err := jsoncodec.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("decode run file: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return errspkg.NewConfigValidationError(err)
	}
	return nil
}
