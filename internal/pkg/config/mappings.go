package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mappings is the model-mapping section of the configuration. For each device
// model it lists canonical field name → source field specifier(s), where a
// specifier is either a bare raw field name or the qualified form
// "<rawField>.<model>.<deviceId>".
type Mappings struct {
	// Units names the unit system the incoming values are expressed in.
	// One of "us", "metric", "metricwx". Defaults to "us".
	Units string `yaml:"units"`

	// Models maps device model → canonical field → source field specifiers.
	Models map[string]map[string]SpecifierList `yaml:"models"`
}

// SpecifierList accepts either a single YAML scalar or a sequence, so the
// common one-device case stays a plain string in the file.
type SpecifierList []string

func (s *SpecifierList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*s = SpecifierList{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = SpecifierList(many)
		return nil
	}
	return fmt.Errorf("line %d: specifier must be a string or list of strings", value.Line)
}

// LoadMappings reads and decodes the YAML mapping file. Rule-level validation
// happens when the mapping table is built from it.
func LoadMappings(path string) (*Mappings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	m := &Mappings{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decoding mapping file %s: %w", path, err)
	}
	if len(m.Models) == 0 {
		return nil, fmt.Errorf("mapping file %s declares no models", path)
	}
	return m, nil
}
