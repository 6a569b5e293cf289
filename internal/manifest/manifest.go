// Package manifest loads YAML build manifests and turns them into rule
// trees. A manifest is a thin convenience for the CLI; rules declare
// outputs, inputs and a command line, with {{in.KEY}} and {{out.KEY}}
// placeholders standing for the resolved artifact paths.
package manifest

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the manifest the CLI looks for when no path is
// given.
const DefaultFileName = "incmake.yaml"

// Definition is the decoded form of a manifest file.
type Definition struct {
	// Dir is the directory artifact paths resolve under, relative to
	// the manifest file.
	Dir string `yaml:"dir,omitempty"`
	// Jobs is the default parallelism; the command line overrides it.
	Jobs   int        `yaml:"jobs,omitempty"`
	Groups []GroupDef `yaml:"groups,omitempty"`
	Rules  []RuleDef  `yaml:"rules,omitempty"`
}

// GroupDef declares a named group. Nested groups nest directories, the
// same way the library API does.
type GroupDef struct {
	Name   string     `yaml:"name"`
	Groups []GroupDef `yaml:"groups,omitempty"`
	Rules  []RuleDef  `yaml:"rules,omitempty"`
}

// RuleDef declares one rule. Exactly one of Command and Shell must be
// set; Shell runs through "sh -c".
type RuleDef struct {
	Name    string      `yaml:"name"`
	Outputs []OutputDef `yaml:"outputs"`
	Inputs  []InputDef  `yaml:"inputs,omitempty"`
	Params  []ParamDef  `yaml:"params,omitempty"`
	Command []string    `yaml:"command,omitempty"`
	Shell   string      `yaml:"shell,omitempty"`
	Force   bool        `yaml:"force,omitempty"`
}

// OutputDef declares an output artifact. Value marks it value-tracked:
// consumers compare its content hash instead of its mtime.
type OutputDef struct {
	Key   string `yaml:"key"`
	Path  string `yaml:"path"`
	Value bool   `yaml:"value,omitempty"`
}

// InputDef declares an input. Either Path names a file, or Rule names a
// producer rule by qualified name (Output picks one of its outputs; when
// empty, every output of the producer becomes an input).
type InputDef struct {
	Key    string `yaml:"key,omitempty"`
	Path   string `yaml:"path,omitempty"`
	Value  bool   `yaml:"value,omitempty"`
	Rule   string `yaml:"rule,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// ParamDef declares a memoized parameter. The value may be any YAML
// scalar, sequence or string-keyed mapping.
type ParamDef struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// Parse decodes a manifest from YAML bytes and validates its structure.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadReader reads and parses a manifest from r.
func LoadReader(r io.Reader) (Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("manifest: read: %w", err)
	}
	return Parse(data)
}

// LoadFile loads a manifest from a file path.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return def, nil
}

// Validate checks the manifest's structure. Semantic problems such as
// output collisions surface later, when the tree is built.
func (def Definition) Validate() error {
	if def.Jobs < 0 {
		return fmt.Errorf("manifest: jobs must not be negative")
	}
	return validateScope("", def.Groups, def.Rules)
}

func validateScope(prefix string, groups []GroupDef, rules []RuleDef) error {
	for _, g := range groups {
		if g.Name == "" {
			return fmt.Errorf("manifest: group under %q has no name", prefix)
		}
		if err := validateScope(qualify(prefix, g.Name), g.Groups, g.Rules); err != nil {
			return err
		}
	}
	for _, r := range rules {
		if err := r.validate(prefix); err != nil {
			return err
		}
	}
	return nil
}

func (r RuleDef) validate(prefix string) error {
	if r.Name == "" {
		return fmt.Errorf("manifest: rule under %q has no name", prefix)
	}
	qname := qualify(prefix, r.Name)
	if len(r.Outputs) == 0 {
		return fmt.Errorf("manifest: rule %q declares no outputs", qname)
	}
	for _, o := range r.Outputs {
		if o.Key == "" || o.Path == "" {
			return fmt.Errorf("manifest: rule %q has an output missing key or path", qname)
		}
	}
	for _, in := range r.Inputs {
		switch {
		case in.Path != "" && in.Rule != "":
			return fmt.Errorf("manifest: rule %q input %q sets both path and rule", qname, in.Key)
		case in.Path == "" && in.Rule == "":
			return fmt.Errorf("manifest: rule %q has an input with neither path nor rule", qname)
		case in.Path != "" && in.Key == "":
			return fmt.Errorf("manifest: rule %q has a file input with no key", qname)
		case in.Rule != "" && in.Value:
			return fmt.Errorf("manifest: rule %q input on rule %q: tracking is decided by the producer's output", qname, in.Rule)
		case in.Rule != "" && in.Output == "" && in.Key != "":
			return fmt.Errorf("manifest: rule %q input on rule %q: key needs an explicit output", qname, in.Rule)
		}
	}
	for _, p := range r.Params {
		if p.Key == "" {
			return fmt.Errorf("manifest: rule %q has a param with no key", qname)
		}
	}
	if len(r.Command) > 0 && r.Shell != "" {
		return fmt.Errorf("manifest: rule %q sets both command and shell", qname)
	}
	if len(r.Command) == 0 && r.Shell == "" {
		return fmt.Errorf("manifest: rule %q has no command", qname)
	}
	return nil
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
