// Package schema validates project documents against the embedded
// avalon-core:project-2.0 definition and ships the base project template.
package schema

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"

	"projectmanager/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed project-2.0.json
var projectSchema []byte

//go:embed base_template.json
var baseTemplate []byte

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid project document")

// Validator checks project documents against the project-2.0 schema.
type Validator struct {
	resolved *jsonschema.Resolved
}

// New parses and resolves the embedded schema.
func New() (*Validator, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(projectSchema, &s); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", models.ProjectSchema, err)
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s schema: %w", models.ProjectSchema, err)
	}
	return &Validator{resolved: rs}, nil
}

// MustNew is New for package-level initialisation and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports whether p conforms to the schema. The document is
// checked in its JSON form, the way it will be read back by other tools.
func (v *Validator) Validate(p *models.Project) error {
	if p == nil {
		return fmt.Errorf("%w: nil document", ErrInvalid)
	}
	instance, err := toInstance(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := v.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// toInstance flattens p, Extra keys included, into plain maps and slices.
func toInstance(p *models.Project) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "id")
	return out, nil
}

// BaseTemplate returns a fresh copy of the default project template.
func BaseTemplate() (*models.Template, error) {
	var t models.Template
	if err := json.Unmarshal(baseTemplate, &t); err != nil {
		return nil, fmt.Errorf("decode base template: %w", err)
	}
	return &t, nil
}
