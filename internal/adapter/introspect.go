package adapter

import (
	"fmt"
	"go/ast"
	gobuild "go/build"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"porchlight/internal/logging"
)

// FuncSource is what static analysis recovers from a function's source.
type FuncSource struct {
	Name string
	File string
	Line int

	// Params holds one entry per declared parameter; "" when the
	// parameter is unnamed or blank.
	Params   []string
	Variadic bool

	// NamedResults is empty unless every result is named.
	NamedResults []string
	ResultCount  int

	// ErrorLast is set when the last declared result type is error.
	ErrorLast bool

	// Returns holds one entry per return statement in source order.
	Returns []ReturnPoint
}

// ReturnPoint is one return statement.
type ReturnPoint struct {
	Line int

	// Names are the returned identifiers, excluding a trailing error
	// position. Nil when the statement returns anything other than bare
	// identifiers; such a return point is untracked.
	Names []string
}

// Tracked reports whether the return point contributes output names.
func (r ReturnPoint) Tracked() bool { return r.Names != nil }

// predeclared constants are identifiers syntactically but never variables.
var predeclaredValues = map[string]bool{
	"nil":   true,
	"true":  true,
	"false": true,
	"iota":  true,
}

// Analyze extracts parameter names and return points from a parsed function.
func Analyze(fset *token.FileSet, name string, typ *ast.FuncType, body *ast.BlockStmt) *FuncSource {
	fs := &FuncSource{Name: name}
	if fset != nil {
		pos := fset.Position(typ.Pos())
		fs.File, fs.Line = pos.Filename, pos.Line
	}

	if typ.Params != nil {
		for _, field := range typ.Params.List {
			if _, ok := field.Type.(*ast.Ellipsis); ok {
				fs.Variadic = true
			}
			if len(field.Names) == 0 {
				fs.Params = append(fs.Params, "")
				continue
			}
			for _, n := range field.Names {
				if n.Name == "_" {
					fs.Params = append(fs.Params, "")
				} else {
					fs.Params = append(fs.Params, n.Name)
				}
			}
		}
	}

	if typ.Results != nil {
		named := true
		for _, field := range typ.Results.List {
			count := len(field.Names)
			if count == 0 {
				named = false
				count = 1
			}
			fs.ResultCount += count
			for _, n := range field.Names {
				fs.NamedResults = append(fs.NamedResults, n.Name)
			}
		}
		if !named {
			fs.NamedResults = nil
		}
		last := typ.Results.List[len(typ.Results.List)-1]
		if ident, ok := last.Type.(*ast.Ident); ok && ident.Name == "error" {
			fs.ErrorLast = true
		}
	}

	for _, ret := range ReturnStmts(body) {
		point := ReturnPoint{}
		if fset != nil {
			point.Line = fset.Position(ret.Pos()).Line
		}
		point.Names = fs.returnNames(ret)
		fs.Returns = append(fs.Returns, point)
	}
	return fs
}

func (fs *FuncSource) returnNames(ret *ast.ReturnStmt) []string {
	if len(ret.Results) == 0 {
		if len(fs.NamedResults) == 0 {
			return nil
		}
		names := fs.NamedResults
		if fs.ErrorLast {
			names = names[:len(names)-1]
		}
		for _, n := range names {
			if n == "_" {
				return nil
			}
		}
		if len(names) == 0 {
			return nil
		}
		return append([]string(nil), names...)
	}

	exprs := ret.Results
	if fs.ErrorLast && len(exprs) == fs.ResultCount {
		exprs = exprs[:len(exprs)-1]
	}
	if len(exprs) == 0 {
		return nil
	}

	names := make([]string, 0, len(exprs))
	for _, expr := range exprs {
		ident, ok := expr.(*ast.Ident)
		if !ok || predeclaredValues[ident.Name] || ident.Name == "_" {
			return nil
		}
		names = append(names, ident.Name)
	}
	return names
}

// ReturnStmts lists the return statements belonging to body itself, in
// source order. Returns inside nested function literals are skipped.
func ReturnStmts(body *ast.BlockStmt) []*ast.ReturnStmt {
	if body == nil {
		return nil
	}
	var rets []*ast.ReturnStmt
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.ReturnStmt:
			rets = append(rets, n)
		}
		return true
	})
	return rets
}

// TrackedOutputs returns the identifier lists of tracked return points.
func (fs *FuncSource) TrackedOutputs() [][]string {
	var out [][]string
	for _, r := range fs.Returns {
		if r.Tracked() {
			out = append(out, r.Names)
		}
	}
	return out
}

// ParseFunc parses Go source text and analyzes the top-level function
// called name. Source without a package clause is accepted.
func ParseFunc(src, name string) (*FuncSource, error) {
	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		src = "package main\n\n" + src
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "source.go", src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUninspectable, err)
	}
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if ok && fd.Recv == nil && fd.Name.Name == name {
			return Analyze(fset, name, fd.Type, fd.Body), nil
		}
	}
	return nil, fmt.Errorf("%w: function %s not found", ErrUninspectable, name)
}

// =============================================================================
// RUNTIME SOURCE LOOKUP
// =============================================================================

type parsedFile struct {
	fset *token.FileSet
	file *ast.File
}

var (
	parsedFiles   = make(map[string]*parsedFile)
	parsedFilesMu sync.Mutex
)

func parseSourceFile(path string) (*parsedFile, error) {
	parsedFilesMu.Lock()
	defer parsedFilesMu.Unlock()

	if pf, ok := parsedFiles[path]; ok {
		return pf, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, 0)
	if err != nil {
		return nil, err
	}
	pf := &parsedFile{fset: fset, file: file}
	parsedFiles[path] = pf
	logging.AdapterDebug("parsed source file %s", path)
	return pf, nil
}

// Locate finds and analyzes the source of a compiled function value.
func Locate(fn any) (*FuncSource, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, ErrNotFunction
	}
	rf := runtime.FuncForPC(rv.Pointer())
	if rf == nil {
		return nil, fmt.Errorf("%w: no runtime symbol", ErrUninspectable)
	}
	if strings.HasSuffix(rf.Name(), "-fm") {
		return locateMethod(rf.Name())
	}
	file, line := rf.FileLine(rf.Entry())
	pf, err := parseSourceFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUninspectable, rf.Name(), err)
	}

	short := shortName(rf.Name())
	fs := findFunc(pf, line, short)
	if fs == nil {
		return nil, fmt.Errorf("%w: %s not found at %s:%d", ErrUninspectable, rf.Name(), file, line)
	}
	if fs.Name == "" {
		fs.Name = short
	}
	return fs, nil
}

// locateMethod resolves a bound method value. The compiler-generated
// "-fm" wrapper has no source of its own, so the method declaration is
// looked up by receiver type and name in the defining package's files.
func locateMethod(symbol string) (*FuncSource, error) {
	pkgPath, recv, method := splitMethodSymbol(symbol)
	if recv == "" || method == "" {
		return nil, fmt.Errorf("%w: cannot parse method symbol %s", ErrUninspectable, symbol)
	}
	for _, dir := range packageDirs(pkgPath) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".go" {
				continue
			}
			pf, err := parseSourceFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			for _, decl := range pf.file.Decls {
				fd, ok := decl.(*ast.FuncDecl)
				if !ok || fd.Recv == nil || len(fd.Recv.List) == 0 || fd.Name.Name != method {
					continue
				}
				if receiverName(fd.Recv.List[0].Type) == recv {
					return Analyze(pf.fset, method, fd.Type, fd.Body), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: method %s.%s not found in package %s", ErrUninspectable, recv, method, pkgPath)
}

// splitMethodSymbol splits "example.com/pkg.(*T[...]).M-fm" into
// "example.com/pkg", "T" and "M".
func splitMethodSymbol(symbol string) (pkgPath, recv, method string) {
	symbol = strings.TrimSuffix(symbol, "-fm")
	if i := strings.Index(symbol, "["); i >= 0 {
		if j := strings.LastIndex(symbol, "]"); j > i {
			symbol = symbol[:i] + symbol[j+1:]
		}
	}
	pkgPath = funcPackage(symbol)
	rest := strings.TrimPrefix(symbol[len(pkgPath):], ".")
	i := strings.LastIndex(rest, ".")
	if i < 0 {
		return pkgPath, "", ""
	}
	recv = strings.Trim(rest[:i], "()*")
	return pkgPath, recv, rest[i+1:]
}

// funcPackage returns the import path part of a runtime symbol.
func funcPackage(symbol string) string {
	slash := strings.LastIndex(symbol, "/")
	if dot := strings.Index(symbol[slash+1:], "."); dot >= 0 {
		return symbol[:slash+1+dot]
	}
	return symbol
}

// packageDirs finds directories holding pkgPath's source: first from the
// files of calling frames in that package, then through go/build.
func packageDirs(pkgPath string) []string {
	var dirs []string
	seen := make(map[string]bool)
	add := func(dir string) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	pcs := make([]uintptr, 64)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(1, pcs)])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && funcPackage(frame.Function) == pkgPath {
			add(filepath.Dir(frame.File))
		}
		if !more {
			break
		}
	}

	if wd, err := os.Getwd(); err == nil {
		if pkg, err := gobuild.Import(pkgPath, wd, gobuild.FindOnly); err == nil {
			add(pkg.Dir)
		}
	}
	return dirs
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.ParenExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// findFunc picks the innermost function declaration or literal whose
// header spans line, preferring a declaration called name. When no header
// matches, the innermost function whose whole body spans line is used.
func findFunc(pf *parsedFile, line int, name string) *FuncSource {
	best := searchFunc(pf, line, name, true)
	if best == nil {
		best = searchFunc(pf, line, name, false)
	}

	switch fn := best.(type) {
	case *ast.FuncDecl:
		return Analyze(pf.fset, fn.Name.Name, fn.Type, fn.Body)
	case *ast.FuncLit:
		return Analyze(pf.fset, "", fn.Type, fn.Body)
	}
	return nil
}

func searchFunc(pf *parsedFile, line int, name string, headerOnly bool) ast.Node {
	var (
		best     ast.Node
		bestSpan = -1
		exact    bool
	)
	ast.Inspect(pf.file, func(n ast.Node) bool {
		if exact {
			return false
		}
		var body *ast.BlockStmt
		switch fn := n.(type) {
		case *ast.FuncDecl:
			body = fn.Body
			if fn.Name.Name == name && spans(pf.fset, fn, body, line, headerOnly) {
				best, exact = fn, true
				return false
			}
		case *ast.FuncLit:
			body = fn.Body
		default:
			return true
		}
		if !spans(pf.fset, n, body, line, headerOnly) {
			return true
		}
		start := pf.fset.Position(n.Pos()).Line
		end := pf.fset.Position(n.End()).Line
		if span := end - start; bestSpan < 0 || span < bestSpan {
			best, bestSpan = n, span
		}
		return true
	})
	return best
}

// spans reports whether line falls inside the function. With headerOnly,
// only the lines from the func keyword to the body's opening brace count.
func spans(fset *token.FileSet, n ast.Node, body *ast.BlockStmt, line int, headerOnly bool) bool {
	start := fset.Position(n.Pos()).Line
	end := fset.Position(n.End()).Line
	if headerOnly && body != nil {
		end = fset.Position(body.Lbrace).Line
	}
	return start <= line && line <= end
}

// shortName trims a runtime symbol such as
// "porchlight/model.(*Orbit).Step-fm" down to "Step", and a closure
// "porchlight/model.Build.func1" down to "Build.func1".
func shortName(symbol string) string {
	if i := strings.LastIndex(symbol, "/"); i >= 0 {
		symbol = symbol[i+1:]
	}
	if i := strings.Index(symbol, "."); i >= 0 {
		symbol = symbol[i+1:]
	}
	if i := strings.Index(symbol, "["); i >= 0 {
		if j := strings.Index(symbol[i:], "]"); j >= 0 {
			symbol = symbol[:i] + symbol[i+j+1:]
		}
	}
	symbol = strings.TrimSuffix(symbol, "-fm")

	parts := strings.Split(symbol, ".")
	for i, p := range parts {
		if i > 0 && isClosureTag(p) {
			return strings.Join(parts[i-1:], ".")
		}
	}
	return parts[len(parts)-1]
}

func isClosureTag(p string) bool {
	digits := strings.TrimPrefix(p, "func")
	if digits == p || digits == "" {
		return false
	}
	return strings.Trim(digits, "0123456789") == ""
}
