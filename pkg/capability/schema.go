// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Param describes one capability parameter.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ParamSpec is the input to NewSchema.
type ParamSpec struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Schema is an ordered mapping from parameter name to Param.
// The zero value is an empty schema. Schemas are not mutated after construction.
type Schema struct {
	params   *orderedmap.OrderedMap[string, Param]
	required []string
}

// NewSchema builds a schema preserving the order of specs.
func NewSchema(specs ...ParamSpec) Schema {
	params := orderedmap.New[string, Param]()
	var required []string
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		typ := spec.Type
		if typ == "" {
			typ = "any"
		}
		params.Set(spec.Name, Param{Type: typ, Description: spec.Description})
		if spec.Required {
			required = append(required, spec.Name)
		}
	}
	return Schema{params: params, required: required}
}

// Len returns the number of parameters.
func (s Schema) Len() int {
	if s.params == nil {
		return 0
	}
	return s.params.Len()
}

// Get returns the parameter with the given name.
func (s Schema) Get(name string) (Param, bool) {
	if s.params == nil {
		return Param{}, false
	}
	return s.params.Get(name)
}

// Each calls fn for every parameter in declaration order until fn returns false.
func (s Schema) Each(fn func(name string, p Param) bool) {
	if s.params == nil {
		return
	}
	for pair := s.params.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Names returns parameter names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, 0, s.Len())
	s.Each(func(name string, _ Param) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Required returns the names of required parameters.
func (s Schema) Required() []string {
	return append([]string(nil), s.required...)
}

// Signature renders "a: string, b: integer".
func (s Schema) Signature() string {
	parts := make([]string, 0, s.Len())
	s.Each(func(name string, p Param) bool {
		parts = append(parts, name+": "+p.Type)
		return true
	})
	return strings.Join(parts, ", ")
}

// MarshalJSON renders the schema as a JSON Schema object.
func (s Schema) MarshalJSON() ([]byte, error) {
	props := s.params
	if props == nil {
		props = orderedmap.New[string, Param]()
	}
	return json.Marshal(struct {
		Type       string                                `json:"type"`
		Properties *orderedmap.OrderedMap[string, Param] `json:"properties"`
		Required   []string                              `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: props,
		Required:   s.required,
	})
}

type jsonSchemaDoc struct {
	Properties *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties"`
	Required   []string                                        `json:"required"`
}

type jsonSchemaProp struct {
	Type        json.RawMessage `json:"type"`
	Description string          `json:"description"`
}

// ParseJSONSchema decodes an object JSON Schema, keeping the order in which
// properties appear in raw.
func ParseJSONSchema(raw []byte) (Schema, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return NewSchema(), nil
	}
	doc := jsonSchemaDoc{Properties: orderedmap.New[string, json.RawMessage]()}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Schema{}, fmt.Errorf("capability schema: %w", err)
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	var specs []ParamSpec
	if doc.Properties != nil {
		for pair := doc.Properties.Oldest(); pair != nil; pair = pair.Next() {
			var prop jsonSchemaProp
			if err := json.Unmarshal(pair.Value, &prop); err != nil {
				return Schema{}, fmt.Errorf("capability schema: property %q: %w", pair.Key, err)
			}
			specs = append(specs, ParamSpec{
				Name:        pair.Key,
				Type:        typeTag(prop.Type),
				Description: prop.Description,
				Required:    required[pair.Key],
			})
		}
	}
	return NewSchema(specs...), nil
}

// SchemaFromProperties builds a schema from an unordered property map.
// Parameters are sorted by name so the result is stable.
func SchemaFromProperties(properties map[string]any, required []string) Schema {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}

	specs := make([]ParamSpec, 0, len(names))
	for _, name := range names {
		spec := ParamSpec{Name: name, Required: req[name]}
		if prop, ok := properties[name].(map[string]any); ok {
			if raw, err := json.Marshal(prop["type"]); err == nil {
				spec.Type = typeTag(raw)
			}
			spec.Description, _ = prop["description"].(string)
		}
		specs = append(specs, spec)
	}
	return NewSchema(specs...)
}

// typeTag turns a JSON Schema "type" value into a tag: "string",
// "string|null" for lists, "any" when absent.
func typeTag(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "any"
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "any"
		}
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.Join(many, "|")
	}
	return "any"
}
