package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orbitModel = `name: orbit
source: orbit.go
functions:
  - func: advance
    defaults:
      dt: 0.1
  - func: energy
    name: kinetic
    mapping:
      speed: v
values:
  x: 0.0
  v: 1.0
constants:
  mass: 2.0
order: [advance, kinetic]
steps: 10
`

func writeModel(t *testing.T, yamlText string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlText), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orbit.go"), []byte("package main\n"), 0644))
	return path
}

func TestLoadModel(t *testing.T) {
	path := writeModel(t, orbitModel)
	m, err := LoadModel(path)
	require.NoError(t, err)

	assert.Equal(t, "orbit", m.Name)
	require.Len(t, m.Functions, 2)
	assert.Equal(t, "advance", m.Functions[0].AdapterName())
	assert.Equal(t, "kinetic", m.Functions[1].AdapterName())
	assert.Equal(t, map[string]string{"speed": "v"}, m.Functions[1].Mapping)
	assert.Equal(t, 0.1, m.Functions[0].Defaults["dt"])
	assert.Equal(t, 2.0, m.Constants["mass"])
	assert.Equal(t, 10, m.Steps)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "orbit.go"), m.SourcePath())

	src, err := m.SourceText()
	require.NoError(t, err)
	assert.Equal(t, "package main\n", src)
}

func TestLoadModelInlineCode(t *testing.T) {
	path := writeModel(t, `functions:
  - func: f
code: |
  func f(x int) int { y := x; return y }
`)
	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "model.yaml", m.Name)
	assert.Empty(t, m.SourcePath())

	src, err := m.SourceText()
	require.NoError(t, err)
	assert.Contains(t, src, "func f")
}

func TestLoadModelRejectsUnknownKeys(t *testing.T) {
	path := writeModel(t, orbitModel+"stepz: 3\n")
	_, err := LoadModel(path)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestModelValidate(t *testing.T) {
	base := func() *Model {
		return &Model{
			Code:      "func f() {}",
			Functions: []FunctionSpec{{Func: "f"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Model)
	}{
		{"no source", func(m *Model) { m.Code = "" }},
		{"both sources", func(m *Model) { m.Source = "f.go" }},
		{"no functions", func(m *Model) { m.Functions = nil }},
		{"negative steps", func(m *Model) { m.Steps = -2 }},
		{"bad func name", func(m *Model) { m.Functions[0].Func = "f-1" }},
		{"duplicate adapter", func(m *Model) { m.Functions = append(m.Functions, FunctionSpec{Func: "f"}) }},
		{"unknown order entry", func(m *Model) { m.Order = []string{"g"} }},
		{"bad value name", func(m *Model) { m.Values = map[string]any{"1x": 1} }},
		{"value and constant", func(m *Model) {
			m.Values = map[string]any{"x": 1}
			m.Constants = map[string]any{"x": 2}
		}},
	}
	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidModel)
		})
	}
}

func TestInitializationMayReuseFunctions(t *testing.T) {
	m := &Model{
		Code:           "func f() {}",
		Functions:      []FunctionSpec{{Func: "f"}},
		Initialization: []FunctionSpec{{Func: "f"}},
		Finalization:   []FunctionSpec{{Func: "f"}},
	}
	assert.NoError(t, m.Validate())
}
