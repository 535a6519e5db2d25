package domain

import (
	"fmt"
	"strings"
)

type FieldType string

const (
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldList   FieldType = "list"
)

func ParseFieldType(raw string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "string", "str", "text":
		return FieldString, nil
	case "bool", "boolean":
		return FieldBool, nil
	case "int", "integer":
		return FieldInt, nil
	case "float", "number", "double":
		return FieldFloat, nil
	case "list", "array", "[]string":
		return FieldList, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse field type", fmt.Errorf("unknown field type %q", raw))
	}
}

// ZeroValue is the value a field takes when no strategy recovered it.
func (t FieldType) ZeroValue() any {
	switch t {
	case FieldBool:
		return false
	case FieldInt:
		return 0
	case FieldFloat:
		return 0.0
	case FieldList:
		return []string{}
	default:
		return ""
	}
}

type SchemaField struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// SchemaDescriptor describes the record a caller expects back from free-form
// model text. Field order is significant for prompts and output.
type SchemaDescriptor struct {
	Fields []SchemaField `json:"fields" yaml:"fields"`
}

func NewSchema(fields ...SchemaField) SchemaDescriptor {
	return SchemaDescriptor{Fields: fields}
}

func (s SchemaDescriptor) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return SchemaField{}, false
}

func (s SchemaDescriptor) Validate() error {
	if len(s.Fields) == 0 {
		return WrapError(ErrInvalidInput, "validate schema", fmt.Errorf("schema has no fields"))
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" {
			return WrapError(ErrInvalidInput, "validate schema", fmt.Errorf("field name is required"))
		}
		if _, dup := seen[name]; dup {
			return WrapError(ErrInvalidInput, "validate schema", fmt.Errorf("duplicate field %q", f.Name))
		}
		seen[name] = struct{}{}
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the zero-valued instance of the schema.
func (s SchemaDescriptor) Default() RecoveredRecord {
	out := make(RecoveredRecord, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Type.ZeroValue()
	}
	return out
}

// RecoveredRecord maps schema field names to typed values: string, bool, int,
// float64 or []string.
type RecoveredRecord map[string]any

func (r RecoveredRecord) String(name string) string {
	v, _ := r[name].(string)
	return v
}

func (r RecoveredRecord) Bool(name string) bool {
	v, _ := r[name].(bool)
	return v
}

func (r RecoveredRecord) Int(name string) int {
	v, _ := r[name].(int)
	return v
}

func (r RecoveredRecord) Float(name string) float64 {
	v, _ := r[name].(float64)
	return v
}

func (r RecoveredRecord) List(name string) []string {
	v, _ := r[name].([]string)
	return v
}
