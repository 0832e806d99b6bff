package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldDef is the YAML shape of one declared field.
type FieldDef struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Definition is the YAML shape of one entity declaration.
type Definition struct {
	Name            string     `yaml:"name"`
	Table           string     `yaml:"table"`
	IdentifierField string     `yaml:"identifier"`
	Fields          []FieldDef `yaml:"fields"`
}

type definitionsFile struct {
	Entities []Definition `yaml:"entities"`
}

var validFieldTypes = map[string]FieldType{
	"string":          TypeString,
	"number":          TypeNumber,
	"boolean":         TypeBoolean,
	"optional-string": TypeOptionalString,
	"optional-number": TypeOptionalNumber,
}

// LoadDefinitions reads entity declarations from a YAML file. Declarations
// are validated for shape only; binding store operations is the caller's job.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity definitions: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse entity definitions: %w", err)
	}

	for _, def := range file.Entities {
		if def.Name == "" {
			return nil, fmt.Errorf("entity definition missing name")
		}
		if def.IdentifierField == "" {
			return nil, fmt.Errorf("entity %q missing identifier field", def.Name)
		}
		for _, f := range def.Fields {
			if _, ok := validFieldTypes[strings.ToLower(f.Type)]; !ok {
				return nil, fmt.Errorf("entity %q field %q has unknown type %q", def.Name, f.Name, f.Type)
			}
		}
	}
	return file.Entities, nil
}

// ToFields converts YAML field declarations into registry fields.
func (d Definition) ToFields() []Field {
	fields := make([]Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, Field{
			Name:     f.Name,
			Type:     validFieldTypes[strings.ToLower(f.Type)],
			Required: f.Required,
		})
	}
	return fields
}
