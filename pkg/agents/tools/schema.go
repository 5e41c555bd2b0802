package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Property is one parameter of a tool schema. Properties keep their
// declaration order so the schema the model sees is reproducible.
type Property struct {
	Name        string   `json:"-"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ObjectSchema is the "parameters" object of a function tool schema.
type ObjectSchema struct {
	Properties []Property
	Required   []string
}

// MarshalJSON emits properties in insertion order. encoding/json sorts
// map keys, which would reorder the schema between processes.
func (o *ObjectSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, p := range o.Properties {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`},"required":`)
	required := o.Required
	if required == nil {
		required = []string{}
	}
	req, err := json.Marshal(required)
	if err != nil {
		return nil, err
	}
	buf.Write(req)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Property looks up a property by name.
func (o *ObjectSchema) Property(name string) (Property, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// IsRequired reports whether the named parameter is required.
func (o *ObjectSchema) IsRequired(name string) bool {
	for _, r := range o.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Schema is a model-visible function tool descriptor.
type Schema struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  *ObjectSchema `json:"parameters"`
}

// MarshalSchemas renders an ordered schema list as the JSON array the
// session.update call carries.
func MarshalSchemas(schemas []*Schema) (json.RawMessage, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(schemas)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal schemas: %w", err)
	}
	return data, nil
}

// schemaFromStruct builds an ObjectSchema from a struct type. Field
// order follows the struct declaration. Tags follow the usual shape:
// json names the parameter, desc describes it, enum constrains it, and
// a pointer type or omitempty makes it optional.
func schemaFromStruct(t reflect.Type) (*ObjectSchema, error) {
	if t == nil {
		return &ObjectSchema{}, nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tools: schema source must be a struct, got %s", t.Kind())
	}

	schema := &ObjectSchema{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		optional := field.Type.Kind() == reflect.Ptr
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, part := range parts[1:] {
				if part == "omitempty" {
					optional = true
				}
			}
		}

		prop := Property{
			Name:        name,
			Type:        jsonTypeOf(field.Type),
			Description: field.Tag.Get("desc"),
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			for _, v := range strings.Split(enum, ",") {
				if v = strings.TrimSpace(v); v != "" {
					prop.Enum = append(prop.Enum, v)
				}
			}
		}
		schema.Properties = append(schema.Properties, prop)
		if !optional {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema, nil
}

func jsonTypeOf(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

// ValidateSchemaList checks an externally supplied schema list for the
// structural shape the upstream expects. It does not interpret the
// parameter contents.
func ValidateSchemaList(list []json.RawMessage) error {
	for i, raw := range list {
		var schema struct {
			Type        string          `json:"type"`
			Name        string          `json:"name"`
			Description *string         `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return fmt.Errorf("tools: schema %d is not an object: %w", i, err)
		}
		if schema.Type != "function" {
			return fmt.Errorf("tools: schema %d: type must be \"function\", got %q", i, schema.Type)
		}
		if schema.Name == "" {
			return fmt.Errorf("tools: schema %d: name is required", i)
		}
		if schema.Description == nil {
			return fmt.Errorf("tools: schema %d (%s): description is required", i, schema.Name)
		}
		var params struct {
			Type       string          `json:"type"`
			Properties json.RawMessage `json:"properties"`
			Required   json.RawMessage `json:"required"`
		}
		if len(schema.Parameters) == 0 || json.Unmarshal(schema.Parameters, &params) != nil {
			return fmt.Errorf("tools: schema %d (%s): parameters must be an object", i, schema.Name)
		}
		if params.Type != "object" || len(params.Properties) == 0 || len(params.Required) == 0 {
			return fmt.Errorf("tools: schema %d (%s): parameters need type, properties and required", i, schema.Name)
		}
	}
	return nil
}
