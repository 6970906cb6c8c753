package schema

import (
	"fmt"
	"sort"

	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

// JSONType is one of the JSON Schema primitive type names.
type JSONType string

const (
	TypeNull    JSONType = "null"
	TypeString  JSONType = "string"
	TypeNumber  JSONType = "number"
	TypeInteger JSONType = "integer"
	TypeBoolean JSONType = "boolean"
	TypeObject  JSONType = "object"
	TypeArray   JSONType = "array"
)

const (
	FormatDateTime = "date-time"
	FormatDate     = "date"
)

// Schema is a node of the declarative type descriptor tree. A node allows
// every type in Types; TypeNull among them makes it nullable.
type Schema struct {
	Types      []JSONType
	Format     string
	Properties map[string]*Schema
	Required   []string
	Items      *Schema
}

// Allows reports whether t is one of the node's types.
func (s *Schema) Allows(t JSONType) bool {
	for _, have := range s.Types {
		if have == t {
			return true
		}
	}
	return false
}

// Nullable reports whether null is an accepted value.
func (s *Schema) Nullable() bool {
	return s.Allows(TypeNull)
}

// IsRequired reports whether name is listed in Required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// FieldNames returns the object's property names in sorted order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a dotted path such as "shop.number" to its node.
func (s *Schema) Lookup(path ...string) (*Schema, bool) {
	node := s
	for _, p := range path {
		if node == nil || node.Properties == nil {
			return nil, false
		}
		next, ok := node.Properties[p]
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, node != nil
}

// Property is a named child used by the Object builder.
type Property struct {
	Name     string
	Schema   *Schema
	Required bool
}

// Prop declares an optional property.
func Prop(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

// RequiredProp declares a required property.
func RequiredProp(name string, s *Schema) Property {
	return Property{Name: name, Schema: s, Required: true}
}

// Object builds an object node from properties.
func Object(props ...Property) *Schema {
	s := &Schema{Types: []JSONType{TypeObject}, Properties: make(map[string]*Schema, len(props))}
	for _, p := range props {
		s.Properties[p.Name] = p.Schema
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// Nullable object, the usual shape for nested Tilroy entities.
func NullableObject(props ...Property) *Schema {
	s := Object(props...)
	s.Types = []JSONType{TypeObject, TypeNull}
	return s
}

func String() *Schema   { return &Schema{Types: []JSONType{TypeString, TypeNull}} }
func Integer() *Schema  { return &Schema{Types: []JSONType{TypeInteger, TypeNull}} }
func Number() *Schema   { return &Schema{Types: []JSONType{TypeNumber, TypeNull}} }
func Boolean() *Schema  { return &Schema{Types: []JSONType{TypeBoolean, TypeNull}} }
func DateTime() *Schema { return &Schema{Types: []JSONType{TypeString, TypeNull}, Format: FormatDateTime} }
func Date() *Schema     { return &Schema{Types: []JSONType{TypeString, TypeNull}, Format: FormatDate} }

// Array builds a nullable array of items.
func Array(items *Schema) *Schema {
	return &Schema{Types: []JSONType{TypeArray, TypeNull}, Items: items}
}

// Union builds a node accepting any of the listed types.
func Union(types ...JSONType) *Schema {
	return &Schema{Types: append([]JSONType(nil), types...)}
}

// NotNull returns a copy of s with null removed from its types.
func NotNull(s *Schema) *Schema {
	out := *s
	out.Types = nil
	for _, t := range s.Types {
		if t != TypeNull {
			out.Types = append(out.Types, t)
		}
	}
	return &out
}

// MarshalJSON renders the node as a JSON Schema document.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.document())
}

func (s *Schema) document() map[string]interface{} {
	doc := make(map[string]interface{})
	switch len(s.Types) {
	case 0:
	case 1:
		doc["type"] = string(s.Types[0])
	default:
		types := make([]string, len(s.Types))
		for i, t := range s.Types {
			types[i] = string(t)
		}
		doc["type"] = types
	}
	if s.Format != "" {
		doc["format"] = s.Format
	}
	if s.Properties != nil {
		props := make(map[string]interface{}, len(s.Properties))
		for name, child := range s.Properties {
			props[name] = child.document()
		}
		doc["properties"] = props
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	if s.Items != nil {
		doc["items"] = s.Items.document()
	}
	return doc
}

type rawSchema struct {
	Type       interface{}        `json:"type"`
	Format     string             `json:"format"`
	Properties map[string]*Schema `json:"properties"`
	Required   []string           `json:"required"`
	Items      *Schema            `json:"items"`
	AnyOf      []*Schema          `json:"anyOf"`
}

// UnmarshalJSON reads a JSON Schema document. anyOf alternatives are folded
// into a single node whose types are the union of theirs.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw rawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	types, err := parseTypes(raw.Type)
	if err != nil {
		return err
	}
	*s = Schema{
		Types:      types,
		Format:     raw.Format,
		Properties: raw.Properties,
		Required:   raw.Required,
		Items:      raw.Items,
	}

	for _, alt := range raw.AnyOf {
		for _, t := range alt.Types {
			if !s.Allows(t) {
				s.Types = append(s.Types, t)
			}
		}
		if s.Format == "" {
			s.Format = alt.Format
		}
		if s.Properties == nil && alt.Properties != nil {
			s.Properties = alt.Properties
			s.Required = alt.Required
		}
		if s.Items == nil {
			s.Items = alt.Items
		}
	}
	if s.Properties != nil && !s.Allows(TypeObject) && len(s.Types) == 0 {
		s.Types = []JSONType{TypeObject}
	}
	return nil
}

func parseTypes(v interface{}) ([]JSONType, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []JSONType{JSONType(t)}, nil
	case []interface{}:
		out := make([]JSONType, 0, len(t))
		for _, item := range t {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("schema type entry %v is not a string", item)
			}
			out = append(out, JSONType(name))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("schema type %v is neither a string nor a list", v)
	}
}
