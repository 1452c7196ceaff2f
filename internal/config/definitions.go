package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions holds the schema entries declared in definition files
type Definitions struct {
	Logical []LogicalDefinition `yaml:"logical" json:"logical"`
	Derived []DerivedDefinition `yaml:"derived" json:"derived"`
}

// LogicalDefinition declares one contract call and the paths its return values are published under.
// Observe is positional: the i-th dotted path names the i-th return value; an empty entry skips it.
type LogicalDefinition struct {
	Contract     string             `yaml:"contract" json:"contract"`
	Call         string             `yaml:"call" json:"call"`
	Args         []ArgDefinition    `yaml:"args" json:"args"`
	ArgOverrides []string           `yaml:"argOverrides" json:"argOverrides"`
	Returns      []ReturnDefinition `yaml:"returns" json:"returns"`
	Observe      []string           `yaml:"observe" json:"observe"`
}

// ArgDefinition is a call argument with an optional named transform.
// A bare scalar is accepted as shorthand for {value: <scalar>}.
type ArgDefinition struct {
	Value     any    `yaml:"value" json:"value"`
	Transform string `yaml:"transform" json:"transform"`
}

// ReturnDefinition names a return value with an optional named transform.
// A bare string is accepted as shorthand for {key: <string>}.
type ReturnDefinition struct {
	Key       string `yaml:"key" json:"key"`
	Transform string `yaml:"transform" json:"transform"`
}

// DerivedDefinition declares a value computed by a script from other paths
type DerivedDefinition struct {
	Observe      string   `yaml:"observe" json:"observe"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Fn           string   `yaml:"fn" json:"fn"`
}

// UnmarshalYAML keeps hex literals such as 0x1f as text rather than integers
func (a *ArgDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.ShortTag() == "!!int" && isHexLiteral(node.Value) {
			a.Value = node.Value
			return nil
		}
		return node.Decode(&a.Value)
	}

	var raw struct {
		Value     yaml.Node `yaml:"value"`
		Transform string    `yaml:"transform"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Transform = raw.Transform
	if raw.Value.Kind == 0 {
		return nil
	}
	var value ArgDefinition
	if err := value.UnmarshalYAML(&raw.Value); err != nil {
		return err
	}
	a.Value = value.Value
	return nil
}

// UnmarshalJSON accepts both the object and the bare value form
func (a *ArgDefinition) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value     any    `json:"value"`
		Transform string `json:"transform"`
	}
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		a.Value, a.Transform = obj.Value, obj.Transform
		return nil
	}
	return json.Unmarshal(data, &a.Value)
}

// UnmarshalYAML accepts both the mapping and the bare key form
func (r *ReturnDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Key = node.Value
		return nil
	}
	type plain ReturnDefinition
	return node.Decode((*plain)(r))
}

// UnmarshalJSON accepts both the object and the bare key form
func (r *ReturnDefinition) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.Key)
	}
	type plain ReturnDefinition
	return json.Unmarshal(data, (*plain)(r))
}

func isHexLiteral(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// LoadDefinitions reads and merges definition files in order.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadDefinitions(paths ...string) (*Definitions, error) {
	defs := &Definitions{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read definitions %s: %w", path, err)
		}
		parsed, err := ParseDefinitions(data, filepath.Ext(path))
		if err != nil {
			return nil, fmt.Errorf("definitions %s: %w", path, err)
		}
		defs.Logical = append(defs.Logical, parsed.Logical...)
		defs.Derived = append(defs.Derived, parsed.Derived...)
	}
	return defs, nil
}

// ParseDefinitions decodes a single definitions document; ext selects the format
func ParseDefinitions(data []byte, ext string) (*Definitions, error) {
	defs := &Definitions{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, defs); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, defs); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
	}
	if err := defs.validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

func (d *Definitions) validate() error {
	var errs []error
	for i, l := range d.Logical {
		if l.Contract == "" {
			errs = append(errs, fmt.Errorf("logical[%d]: contract is required", i))
		}
		if l.Call == "" {
			errs = append(errs, fmt.Errorf("logical[%d]: call is required", i))
		}
	}
	for i, dd := range d.Derived {
		if dd.Observe == "" {
			errs = append(errs, fmt.Errorf("derived[%d]: observe is required", i))
		}
		if strings.TrimSpace(dd.Fn) == "" {
			errs = append(errs, fmt.Errorf("derived[%d]: fn is required", i))
		}
	}
	return errors.Join(errs...)
}
