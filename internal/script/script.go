// Package script builds adapters from Go source text run by the yaegi
// interpreter. Every return statement is instrumented before evaluation, so
// after each call the adapter knows exactly which return point ran and names
// its outputs from that statement alone.
package script

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"porchlight/internal/adapter"
	"porchlight/internal/logging"
)

const (
	markerVar  = "porchlightReturnPoint"
	markerFunc = "porchlightLastReturn"
)

// DefaultAllowedPackages are the imports model source may use unless
// WithAllowedPackages says otherwise.
var DefaultAllowedPackages = []string{
	"context",
	"errors",
	"fmt",
	"math",
	"math/rand",
	"sort",
	"strconv",
	"strings",
	"time",
}

// Option configures a Program.
type Option func(*Program)

// WithAllowedPackages replaces the import allowlist. Passing no packages
// allows every standard library package.
func WithAllowedPackages(pkgs ...string) Option {
	return func(p *Program) {
		p.allowed = nil
		if len(pkgs) == 0 {
			return
		}
		p.allowed = make(map[string]bool, len(pkgs))
		for _, pkg := range pkgs {
			p.allowed[pkg] = true
		}
	}
}

// WithFilename sets the name used in positions and error messages.
func WithFilename(name string) Option {
	return func(p *Program) { p.filename = name }
}

// Program is evaluated source text. It is not safe for concurrent calls.
type Program struct {
	filename     string
	pkg          string
	allowed      map[string]bool
	instrumented string
	sources      map[string]*adapter.FuncSource
	order        []string

	interp *interp.Interpreter

	mu         sync.Mutex
	lastReturn int
}

// Compile parses, instruments and evaluates src. Source without a package
// clause is treated as package main.
func Compile(src string, opts ...Option) (*Program, error) {
	p := &Program{
		filename:   "model.go",
		sources:    make(map[string]*adapter.FuncSource),
		lastReturn: -1,
	}
	WithAllowedPackages(DefaultAllowedPackages...)(p)
	for _, opt := range opts {
		opt(p)
	}

	timer := logging.StartTimer(logging.CategoryScript, "Compile")
	defer timer.Stop()

	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		// Same line, so positions match the caller's text.
		src = "package main; " + src
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, p.filename, src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	p.pkg = file.Name.Name

	if err := p.checkImports(file); err != nil {
		return nil, err
	}
	for name := range file.Scope.Objects {
		if strings.HasPrefix(name, markerVar) || strings.HasPrefix(name, markerFunc) {
			return nil, fmt.Errorf("%w: %s is a reserved name", ErrParse, name)
		}
	}

	p.instrumented = p.instrument(fset, file, src)

	p.interp = interp.New(interp.Options{})
	if err := p.interp.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if _, err := p.interp.Eval(p.instrumented); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}

	logging.Script("compiled %s: %d functions", p.filename, len(p.order))
	return p, nil
}

func (p *Program) checkImports(file *ast.File) error {
	if p.allowed == nil {
		return nil
	}
	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		if !p.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		allowed := make([]string, 0, len(p.allowed))
		for pkg := range p.allowed {
			allowed = append(allowed, pkg)
		}
		sort.Strings(allowed)
		return fmt.Errorf("%w: %v (allowed: %v)", ErrForbiddenImport, forbidden, allowed)
	}
	return nil
}

// instrument records each top-level function's return points and rewrites
// src so every return first stores its index in that function's marker.
// Only the outermost activation writes the marker, so recursive calls in a
// return expression cannot overwrite it.
func (p *Program) instrument(fset *token.FileSet, file *ast.File, src string) string {
	type insertion struct {
		offset int
		seq    int
		text   string
	}
	var (
		inserts []insertion
		markers strings.Builder
	)

	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv != nil || fd.Body == nil {
			continue
		}
		name := fd.Name.Name
		p.sources[name] = adapter.Analyze(fset, name, fd.Type, fd.Body)
		p.order = append(p.order, name)

		ret, depth := markerVar+"_"+name, markerVar+"Depth_"+name
		inserts = append(inserts, insertion{
			offset: fset.Position(fd.Body.Lbrace).Offset + 1,
			seq:    len(inserts),
			text:   fmt.Sprintf(" %[1]s++; defer func() { %[1]s-- }();", depth),
		})
		for k, rs := range adapter.ReturnStmts(fd.Body) {
			inserts = append(inserts, insertion{
				offset: fset.Position(rs.Pos()).Offset,
				seq:    len(inserts),
				text:   fmt.Sprintf("if %s == 1 { %s = %d }; ", depth, ret, k),
			})
		}
		fmt.Fprintf(&markers, `
var %[1]s = -1
var %[2]s = 0

func %[3]s() int {
	k := %[1]s
	%[1]s = -1
	return k
}
`, ret, depth, markerFunc+"_"+name)
	}

	// Back to front so earlier offsets stay valid. At a shared offset the
	// later insertion goes in first and ends up after the earlier one.
	sort.Slice(inserts, func(i, j int) bool {
		if inserts[i].offset != inserts[j].offset {
			return inserts[i].offset > inserts[j].offset
		}
		return inserts[i].seq > inserts[j].seq
	})
	out := src
	for _, ins := range inserts {
		out = out[:ins.offset] + ins.text + out[ins.offset:]
	}
	out += "\n" + markers.String()

	if formatted, err := format.Source([]byte(out)); err == nil {
		out = string(formatted)
	}
	return out
}

// Funcs lists the top-level functions in declaration order.
func (p *Program) Funcs() []string {
	return append([]string(nil), p.order...)
}

// Source returns the analyzed source of a function.
func (p *Program) Source(name string) (*adapter.FuncSource, bool) {
	fs, ok := p.sources[name]
	return fs, ok
}

// Instrumented returns the text handed to the interpreter.
func (p *Program) Instrumented() string { return p.instrumented }

// Adapter builds an adapter around the interpreted function name. Options
// are applied after the program's own, so WithName and the rest still work.
func (p *Program) Adapter(name string, opts ...adapter.Option) (*adapter.Adapter, error) {
	src, ok := p.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	v, err := p.interp.Eval(p.pkg + "." + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEval, name, err)
	}
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is %s", adapter.ErrNotFunction, name, v.Kind())
	}

	lv, err := p.interp.Eval(p.pkg + "." + markerFunc + "_" + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s marker: %v", ErrEval, name, err)
	}
	last, ok := lv.Interface().(func() int)
	if !ok {
		return nil, fmt.Errorf("%w: %s marker has type %s", ErrEval, name, lv.Type())
	}

	fn := p.track(v, last)
	base := []adapter.Option{
		adapter.WithName(name),
		adapter.WithSource(src),
		adapter.WithReturnTracker(p.LastReturn),
	}
	a, err := adapter.New(fn, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	logging.ScriptDebug("script adapter %s: outputs=%v", name, a.Outputs())
	return a, nil
}

// track wraps an interpreted function so the executed return point is
// captured right after each call.
func (p *Program) track(fn reflect.Value, last func() int) any {
	wrapped := reflect.MakeFunc(fn.Type(), func(args []reflect.Value) []reflect.Value {
		p.mu.Lock()
		defer p.mu.Unlock()
		last()
		var results []reflect.Value
		if fn.Type().IsVariadic() {
			results = fn.CallSlice(args)
		} else {
			results = fn.Call(args)
		}
		p.lastReturn = last()
		return results
	})
	return wrapped.Interface()
}

// LastReturn reports the return point index of the latest call, or -1.
func (p *Program) LastReturn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReturn
}
