package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuncReturnPoints(t *testing.T) {
	tests := []struct {
		name string
		src  string
		fn   string
		want [][]string
	}{
		{
			name: "single identifier",
			src:  "func f(x int) int { y := x; return y }",
			fn:   "f",
			want: [][]string{{"y"}},
		},
		{
			name: "expression is untracked",
			src:  "func f(x int) int { return x + 1 }",
			fn:   "f",
			want: [][]string{nil},
		},
		{
			name: "predeclared values are untracked",
			src:  "func f(x int) (*int, bool) { if x > 0 { return nil, true }; p := &x; ok := false; return p, ok }",
			fn:   "f",
			want: [][]string{nil, {"p", "ok"}},
		},
		{
			name: "trailing error dropped",
			src:  "func f(x int) (int, error) { y := x; var err error; return y, err }",
			fn:   "f",
			want: [][]string{{"y"}},
		},
		{
			name: "bare return uses named results",
			src:  "func f(x int) (a, b int, err error) { a, b = x, x; return }",
			fn:   "f",
			want: [][]string{{"a", "b"}},
		},
		{
			name: "nested literal returns are skipped",
			src:  "func f(x int) int { g := func() int { inner := 1; return inner }; y := g() + x; return y }",
			fn:   "f",
			want: [][]string{{"y"}},
		},
		{
			name: "blank identifier is untracked",
			src:  "func f() int { return _ }",
			fn:   "f",
			want: [][]string{nil},
		},
		{
			name: "bare return with blank named result is untracked",
			src:  "func f() (_ int, err error) { return }",
			fn:   "f",
			want: [][]string{nil},
		},
		{
			name: "package clause kept",
			src:  "package model\n\nfunc f() (int, int) { a, b := 1, 2; return a, b }",
			fn:   "f",
			want: [][]string{{"a", "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := ParseFunc(tt.src, tt.fn)
			require.NoError(t, err)
			got := make([][]string, len(fs.Returns))
			for i, r := range fs.Returns {
				got[i] = r.Names
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFuncParams(t *testing.T) {
	fs, err := ParseFunc("func f(ctx context.Context, a, _ int, rest ...string) {}", "f")
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx", "a", "", "rest"}, fs.Params)
	assert.True(t, fs.Variadic)
	assert.Equal(t, 0, fs.ResultCount)
	assert.Empty(t, fs.Returns)
}

func TestParseFuncErrors(t *testing.T) {
	_, err := ParseFunc("func f( {", "f")
	assert.ErrorIs(t, err, ErrUninspectable)

	_, err = ParseFunc("func f() {}", "g")
	assert.ErrorIs(t, err, ErrUninspectable)
}

func TestLocateDeclaration(t *testing.T) {
	fs, err := Locate(advance)
	require.NoError(t, err)
	assert.Equal(t, "advance", fs.Name)
	assert.Equal(t, []string{"x", "v", "dt"}, fs.Params)
	assert.Contains(t, fs.File, "adapter_test.go")
}

func TestLocateMethodValue(t *testing.T) {
	fs, err := Locate((&body{k: 1}).Step)
	require.NoError(t, err)
	assert.Equal(t, "Step", fs.Name)
	assert.Equal(t, []string{"x", "v"}, fs.Params)
	assert.Contains(t, fs.File, "adapter_test.go")
}

func TestSplitMethodSymbol(t *testing.T) {
	tests := []struct {
		symbol            string
		pkg, recv, method string
	}{
		{"porchlight/internal/model.(*Body).Step-fm", "porchlight/internal/model", "Body", "Step"},
		{"porchlight/internal/model.Body.Energy-fm", "porchlight/internal/model", "Body", "Energy"},
		{"main.(*Box[go.shape.int]).Get-fm", "main", "Box", "Get"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			pkg, recv, method := splitMethodSymbol(tt.symbol)
			assert.Equal(t, tt.pkg, pkg)
			assert.Equal(t, tt.recv, recv)
			assert.Equal(t, tt.method, method)
		})
	}
}

func TestShortName(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"porchlight/internal/model.Orbit", "Orbit"},
		{"porchlight/internal/model.(*Body).Step-fm", "Step"},
		{"porchlight/internal/model.Build.func1", "Build.func1"},
		{"porchlight/internal/model.Build.func2.1", "Build.func2.1"},
		{"main.Map[...]", "Map"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, shortName(tt.symbol))
		})
	}
}
