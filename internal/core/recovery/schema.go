package recovery

import (
	"fmt"
	"os"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// ParseSchema reads a YAML schema of the form:
//
//	fields:
//	  - name: refined_text
//	    type: string
func ParseSchema(data []byte) (domain.SchemaDescriptor, error) {
	var raw struct {
		Fields []struct {
			Name string `yaml:"name"`
			Type string `yaml:"type"`
		} `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.SchemaDescriptor{}, domain.WrapError(domain.ErrInvalidInput, "parse schema", err)
	}

	schema := domain.SchemaDescriptor{Fields: make([]domain.SchemaField, 0, len(raw.Fields))}
	for _, f := range raw.Fields {
		fieldType, err := domain.ParseFieldType(f.Type)
		if err != nil {
			return domain.SchemaDescriptor{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		schema.Fields = append(schema.Fields, domain.SchemaField{Name: f.Name, Type: fieldType})
	}
	if err := schema.Validate(); err != nil {
		return domain.SchemaDescriptor{}, err
	}
	return schema, nil
}

func LoadSchema(path string) (domain.SchemaDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SchemaDescriptor{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}
