package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// GenerateCatalogJSONSchema produces a JSON Schema Draft 2020-12 document
// from the catalog/v0 Go types.
func GenerateCatalogJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Catalog{})
	s.ID = "https://github.com/ormasoftchile/flowplan/schemas/catalog-v0.json"
	s.Title = "Function Catalog (catalog/v0)"
	s.Description = "Schema for catalog/v0 YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal catalog schema: %w", err)
	}
	return data, nil
}

// GeneratePlanJSONSchema produces a JSON Schema Draft 2020-12 document for
// the plan interchange format.
func GeneratePlanJSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{Mapper: mapScope}
	s := r.Reflect(&plan.Document{})
	s.ID = "https://github.com/ormasoftchile/flowplan/schemas/plan.json"
	s.Title = "Plan"
	s.Description = "Schema for serialized plan trees (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal plan schema: %w", err)
	}
	return data, nil
}

var scopeType = reflect.TypeOf(vars.Scope{})

// mapScope describes vars.Scope, which encodes as a Key/Value list and also
// decodes from a plain string map.
func mapScope(t reflect.Type) *jsonschema.Schema {
	if t != scopeType {
		return nil
	}
	pair := orderedmap.New[string, *jsonschema.Schema]()
	pair.Set("Key", &jsonschema.Schema{Type: "string"})
	pair.Set("Value", &jsonschema.Schema{Type: "string"})
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{
				Type: "array",
				Items: &jsonschema.Schema{
					Type:       "object",
					Properties: pair,
					Required:   []string{"Key", "Value"},
				},
			},
			{
				Type:                 "object",
				AdditionalProperties: &jsonschema.Schema{Type: "string"},
			},
		},
	}
}
