package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"porchlight/internal/cell"
)

// Model describes one stepped computation: Go source holding the functions,
// which of them to register, and the starting pool.
type Model struct {
	Name string `yaml:"name"`

	// Source is a Go file path, relative to the model file. Code holds the
	// source inline instead. Exactly one must be set.
	Source string `yaml:"source,omitempty"`
	Code   string `yaml:"code,omitempty"`

	Functions      []FunctionSpec `yaml:"functions"`
	Initialization []FunctionSpec `yaml:"initialization,omitempty"`
	Finalization   []FunctionSpec `yaml:"finalization,omitempty"`

	Values    map[string]any `yaml:"values,omitempty"`
	Constants map[string]any `yaml:"constants,omitempty"`

	// Order is the call order by adapter name; empty keeps declaration order.
	Order []string `yaml:"order,omitempty"`
	Steps int      `yaml:"steps,omitempty"`

	path string
}

// FunctionSpec registers one function from the model source.
type FunctionSpec struct {
	Func      string            `yaml:"func"`
	Name      string            `yaml:"name,omitempty"` // adapter name, default Func
	Mapping   map[string]string `yaml:"mapping,omitempty"`
	Defaults  map[string]any    `yaml:"defaults,omitempty"`
	Outputs   []string          `yaml:"outputs,omitempty"`
	TypeCheck bool              `yaml:"type_check,omitempty"`
}

// AdapterName returns the name the function registers under.
func (f FunctionSpec) AdapterName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Func
}

// LoadModel reads and validates a model file. Unknown keys are rejected.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	m := &Model{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidModel, path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m.path = abs
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the absolute path the model was loaded from.
func (m *Model) Path() string { return m.path }

// SourcePath returns the absolute source file path, or "" for inline code.
func (m *Model) SourcePath() string {
	if m.Source == "" {
		return ""
	}
	if filepath.IsAbs(m.Source) || m.path == "" {
		return m.Source
	}
	return filepath.Join(filepath.Dir(m.path), m.Source)
}

// SourceText returns the model's Go source.
func (m *Model) SourceText() (string, error) {
	if m.Code != "" {
		return m.Code, nil
	}
	data, err := os.ReadFile(m.SourcePath())
	if err != nil {
		return "", fmt.Errorf("failed to read model source: %w", err)
	}
	return string(data), nil
}

// Validate checks the model for structural errors. Whether the named
// functions exist is only known once the source is compiled.
func (m *Model) Validate() error {
	if (m.Source == "") == (m.Code == "") {
		return fmt.Errorf("%w: exactly one of source and code must be set", ErrInvalidModel)
	}
	if len(m.Functions) == 0 {
		return fmt.Errorf("%w: no functions", ErrInvalidModel)
	}
	if m.Steps < 0 {
		return fmt.Errorf("%w: steps must not be negative", ErrInvalidModel)
	}

	names := make(map[string]bool)
	groups := [][]FunctionSpec{m.Functions, m.Initialization, m.Finalization}
	for gi, group := range groups {
		for _, f := range group {
			if !cell.ValidIdentifier(f.Func) {
				return fmt.Errorf("%w: function %q", ErrInvalidModel, f.Func)
			}
			if gi > 0 {
				continue
			}
			name := f.AdapterName()
			if names[name] {
				return fmt.Errorf("%w: adapter %s registered twice", ErrInvalidModel, name)
			}
			names[name] = true
		}
	}

	for _, name := range m.Order {
		if !names[name] {
			return fmt.Errorf("%w: order names unknown adapter %s", ErrInvalidModel, name)
		}
	}

	for _, values := range []map[string]any{m.Values, m.Constants} {
		for name := range values {
			if !cell.ValidIdentifier(name) {
				return fmt.Errorf("%w: value name %q", ErrInvalidModel, name)
			}
		}
	}
	for name := range m.Constants {
		if _, dup := m.Values[name]; dup {
			return fmt.Errorf("%w: %s is both a value and a constant", ErrInvalidModel, name)
		}
	}
	return nil
}
