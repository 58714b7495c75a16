package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"porchlight/internal/cell"
	"porchlight/internal/logging"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ReturnTracker reports which return point of the wrapped function ran on
// the most recent call, or -1 when that is unknown.
type ReturnTracker func() int

// Option configures an Adapter.
type Option func(*settings)

type settings struct {
	name      string
	inputs    []string
	outputs   []string
	defaults  map[string]any
	mapping   map[string]string
	typeCheck bool
	source    *FuncSource
	tracker   ReturnTracker
}

// WithName overrides the adapter name (default: the function's name).
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithInputs declares parameter names explicitly, skipping source lookup
// for them. The count must match the function's parameters (excluding a
// leading context.Context).
func WithInputs(names ...string) Option {
	return func(s *settings) { s.inputs = names }
}

// WithOutputs declares output names explicitly as a single return point.
// The count must match the function's results (excluding a trailing error).
func WithOutputs(names ...string) Option {
	return func(s *settings) {
		if names == nil {
			names = []string{}
		}
		s.outputs = names
	}
}

// WithDefault gives a parameter (by local name) a default value.
func WithDefault(name string, value any) Option {
	return func(s *settings) {
		if s.defaults == nil {
			s.defaults = make(map[string]any)
		}
		s.defaults[name] = value
	}
}

// WithDefaults gives several parameters default values.
func WithDefaults(defaults map[string]any) Option {
	return func(s *settings) {
		for k, v := range defaults {
			WithDefault(k, v)(s)
		}
	}
}

// WithMapping renames local names onto shared names. Keys are shared
// names, values are the function's own parameter or output names.
func WithMapping(mapping map[string]string) Option {
	return func(s *settings) { s.mapping = mapping }
}

// WithTypeCheck requires input values to be assignable to parameter types.
// Without it, numeric values are converted between numeric kinds.
func WithTypeCheck(strict bool) Option {
	return func(s *settings) { s.typeCheck = strict }
}

// WithSource supplies pre-analyzed source instead of a runtime lookup.
func WithSource(fs *FuncSource) Option {
	return func(s *settings) { s.source = fs }
}

// WithReturnTracker installs a tracker identifying the executed return point.
func WithReturnTracker(t ReturnTracker) Option {
	return func(s *settings) { s.tracker = t }
}

type param struct {
	local    string
	typ      reflect.Type
	variadic bool
	def      any
}

// Adapter wraps one Go function. Introspection happens once, in New.
type Adapter struct {
	name      string
	fn        reflect.Value
	hasCtx    bool
	errorLast bool
	nresults  int
	params    []param
	returns   []ReturnPoint
	names     nameMap
	tracker   ReturnTracker
	typeCheck bool
	source    *FuncSource
	warnings  []string

	// agreed holds, per result position, the name every tracked return
	// point uses there, or "" where they differ. Used without a tracker.
	agreed []string
}

var _ Invoker = (*Adapter)(nil)

// New wraps fn, discovering its parameter and output names from source.
func New(fn any, opts ...Option) (*Adapter, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNotFunction, fn)
	}

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	return build(rv, s)
}

// MustNew is New for static setup; it panics on error.
func MustNew(fn any, opts ...Option) *Adapter {
	a, err := New(fn, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build adapter: %v", err))
	}
	return a
}

func build(rv reflect.Value, s *settings) (*Adapter, error) {
	ft := rv.Type()
	a := &Adapter{
		fn:        rv,
		tracker:   s.tracker,
		typeCheck: s.typeCheck,
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		a.hasCtx = true
		first = 1
	}
	a.nresults = ft.NumOut()
	if a.nresults > 0 && ft.Out(a.nresults-1) == errorType {
		a.errorLast = true
		a.nresults--
	}

	src := s.source
	if src == nil && (s.inputs == nil || s.outputs == nil) {
		located, err := Locate(rv.Interface())
		if err != nil {
			msg := fmt.Sprintf("source unavailable, using positional names: %v", err)
			a.warnings = append(a.warnings, msg)
			logging.AdapterWarn("%s", msg)
		} else {
			src = located
		}
	}
	a.source = src
	a.name = adapterName(rv, s, src)

	if err := a.bindParams(ft, first, s, src); err != nil {
		return nil, err
	}
	if err := a.bindReturns(s, src); err != nil {
		return nil, err
	}

	locals := make([]string, len(a.params))
	for i, p := range a.params {
		locals[i] = p.local
	}
	names, err := newNameMap(s.mapping, locals, a.localOutputs())
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", a.name, err)
	}
	a.names = names

	a.checkReturnConsistency()
	logging.AdapterDebug("built adapter %s: inputs=%v outputs=%v", a.name, locals, a.localOutputs())
	return a, nil
}

func adapterName(rv reflect.Value, s *settings, src *FuncSource) string {
	if s.name != "" {
		return s.name
	}
	if src != nil && src.Name != "" {
		return src.Name
	}
	if rf := runtime.FuncForPC(rv.Pointer()); rf != nil {
		return shortName(rf.Name())
	}
	return "anonymous"
}

func (a *Adapter) bindParams(ft reflect.Type, first int, s *settings, src *FuncSource) error {
	count := ft.NumIn() - first
	if s.inputs != nil && len(s.inputs) != count {
		return fmt.Errorf("%w: %s declares %d inputs, function takes %d",
			ErrInvalidSignature, a.name, len(s.inputs), count)
	}

	seen := make(map[string]bool)
	for i := 0; i < count; i++ {
		idx := i + first
		local := ""
		switch {
		case s.inputs != nil:
			local = s.inputs[i]
		case src != nil && idx < len(src.Params):
			local = src.Params[idx]
		}
		if local == "" {
			local = fmt.Sprintf("arg%d", i)
		}
		if !cell.ValidIdentifier(local) {
			return fmt.Errorf("%w: %s: input name %q", ErrInvalidSignature, a.name, local)
		}
		if seen[local] {
			return fmt.Errorf("%w: %s: duplicate input %q", ErrInvalidSignature, a.name, local)
		}
		seen[local] = true

		p := param{
			local:    local,
			typ:      ft.In(idx),
			variadic: ft.IsVariadic() && idx == ft.NumIn()-1,
			def:      cell.Absent,
		}
		if d, ok := s.defaults[local]; ok {
			p.def = d
		}
		a.params = append(a.params, p)
	}

	for name := range s.defaults {
		if !seen[name] {
			return fmt.Errorf("%w: %s: default for unknown input %q", ErrInvalidSignature, a.name, name)
		}
	}
	return nil
}

func (a *Adapter) bindReturns(s *settings, src *FuncSource) error {
	switch {
	case s.outputs != nil:
		if len(s.outputs) != a.nresults {
			return fmt.Errorf("%w: %s declares %d outputs, function returns %d",
				ErrInvalidSignature, a.name, len(s.outputs), a.nresults)
		}
		for _, n := range s.outputs {
			if !cell.ValidIdentifier(n) {
				return fmt.Errorf("%w: %s: output name %q", ErrInvalidSignature, a.name, n)
			}
		}
		names := s.outputs
		if len(names) == 0 {
			names = nil
		}
		a.returns = []ReturnPoint{{Names: names}}
		// Declared names hold for every return point.
		a.tracker = nil
	case src != nil:
		a.returns = src.Returns
	default:
		var names []string
		for i := 0; i < a.nresults; i++ {
			names = append(names, fmt.Sprintf("out%d", i))
		}
		a.returns = []ReturnPoint{{Names: names}}
	}
	return nil
}

// checkReturnConsistency records a warning when return points disagree on
// their identifier lists. With a tracker each call uses the list of the
// return point that ran; without one only agreed positions are written.
func (a *Adapter) checkReturnConsistency() {
	tracked := a.localOutputs()
	if len(tracked) > 0 {
		a.agreed = append([]string(nil), tracked[0]...)
	}
	differ := false
	for _, names := range tracked[min(1, len(tracked)):] {
		if strings.Join(names, ",") != strings.Join(tracked[0], ",") {
			differ = true
		}
		for i := range a.agreed {
			if i >= len(names) || names[i] != a.agreed[i] {
				a.agreed[i] = ""
			}
		}
	}
	if differ {
		msg := fmt.Sprintf("%s: return points name different outputs: %v", a.name, tracked)
		if a.tracker == nil {
			msg += "; only positions named alike are written"
		}
		a.warnings = append(a.warnings, msg)
		logging.AdapterWarn("%s", msg)
	}
	for _, r := range a.returns {
		if !r.Tracked() && a.nresults > 0 {
			msg := fmt.Sprintf("%s: return at line %d is not a list of names; its values are not tracked", a.name, r.Line)
			a.warnings = append(a.warnings, msg)
			logging.AdapterDebug("%s", msg)
		}
	}
}

func (a *Adapter) localOutputs() [][]string {
	var out [][]string
	for _, r := range a.returns {
		if r.Tracked() {
			out = append(out, r.Names)
		}
	}
	return out
}

// Name returns the adapter's identity.
func (a *Adapter) Name() string { return a.name }

// Inputs lists parameters with their shared names.
func (a *Adapter) Inputs() []Input {
	inputs := make([]Input, len(a.params))
	for i, p := range a.params {
		typ := p.typ
		if typ.Kind() == reflect.Interface && typ.NumMethod() == 0 {
			typ = nil
		}
		inputs[i] = Input{
			Name:     a.names.shared(p.local),
			Local:    p.local,
			Type:     typ,
			Required: cell.IsAbsent(p.def) && !p.variadic,
			Default:  p.def,
			Variadic: p.variadic,
		}
	}
	return inputs
}

// Outputs lists the tracked output names of each return point, mapped to shared names.
func (a *Adapter) Outputs() [][]string {
	local := a.localOutputs()
	out := make([][]string, len(local))
	for i, names := range local {
		out[i] = a.names.sharedAll(names)
	}
	return out
}

// ReturnPoints lists every return point with local names, tracked or not.
func (a *Adapter) ReturnPoints() []ReturnPoint {
	return append([]ReturnPoint(nil), a.returns...)
}

// Mapping returns the shared -> local name table.
func (a *Adapter) Mapping() map[string]string { return a.names.mapping() }

// Warnings lists non-fatal introspection findings.
func (a *Adapter) Warnings() []string { return append([]string(nil), a.warnings...) }

// Source returns the analyzed source, or nil when introspection was unavailable.
func (a *Adapter) Source() *FuncSource { return a.source }

// Call resolves arguments from inputs (shared name -> value), invokes the
// function and pairs its results with the names of the return point that
// ran. An error returned by the function is returned as is.
func (a *Adapter) Call(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	args := make([]reflect.Value, 0, len(a.params)+1)
	if a.hasCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		args = append(args, reflect.ValueOf(ctx))
	}

	spread := false
	for _, p := range a.params {
		shared := a.names.shared(p.local)
		v, ok := inputs[shared]
		if !ok || cell.IsAbsent(v) {
			switch {
			case !cell.IsAbsent(p.def):
				v = p.def
			case p.variadic:
				continue
			default:
				return nil, fmt.Errorf("%w: %s (adapter %s)", ErrMissingArgument, shared, a.name)
			}
		}
		arg, err := a.argument(p, shared, v)
		if err != nil {
			return nil, err
		}
		if p.variadic {
			spread = true
		}
		args = append(args, arg)
	}

	var results []reflect.Value
	if spread {
		results = a.fn.CallSlice(args)
	} else {
		results = a.fn.Call(args)
	}

	if a.errorLast {
		last := results[len(results)-1]
		results = results[:len(results)-1]
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
	}

	point := -1
	if a.tracker != nil {
		point = a.tracker()
	}
	names := a.namesFor(point)

	outputs := make(map[string]any, len(names))
	for i := 0; i < len(names) && i < len(results); i++ {
		if names[i] == "" {
			continue
		}
		outputs[a.names.shared(names[i])] = results[i].Interface()
	}
	return outputs, nil
}

// namesFor returns the local output names for a return point. When the
// point is unknown, only the positions all tracked return points name
// alike are returned; the rest are "".
func (a *Adapter) namesFor(point int) []string {
	if point >= 0 && point < len(a.returns) {
		return a.returns[point].Names
	}
	return a.agreed
}

func (a *Adapter) argument(p param, shared string, v any) (reflect.Value, error) {
	if a.typeCheck {
		if v == nil {
			if nillable(p.typ) {
				return reflect.Zero(p.typ), nil
			}
		} else if reflect.TypeOf(v).AssignableTo(p.typ) {
			return reflect.ValueOf(v), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %s is %T, %s wants %s", ErrInvalidArgType, shared, v, a.name, p.typ)
	}

	converted, err := cell.Coerce(v, p.typ)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgType, shared, err)
	}
	if converted == nil {
		return reflect.Zero(p.typ), nil
	}
	rv := reflect.ValueOf(converted)
	if p.typ.Kind() == reflect.Interface {
		out := reflect.New(p.typ).Elem()
		out.Set(rv)
		return out, nil
	}
	return rv, nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func (a *Adapter) String() string {
	return fmt.Sprintf("Adapter(name=%s, inputs=%v, outputs=%v)", a.name, a.Inputs(), a.Outputs())
}

// IsMissingArgument reports whether err is a missing-argument error.
func IsMissingArgument(err error) bool {
	return errors.Is(err, ErrMissingArgument)
}
