package adapter

import (
	"context"
	"fmt"
	"reflect"

	"porchlight/internal/cell"
	"porchlight/internal/logging"
)

// MapFunc is a callable that receives its arguments by local name and
// returns its outputs by local name.
type MapFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Param declares one input of a MapFunc.
type Param struct {
	Name string
	// Type constrains the argument; nil accepts anything.
	Type reflect.Type
	// Default is used when no value is supplied. Leave nil and set
	// Required to demand a value. An optional Param with a nil Default and
	// a non-nillable Type defaults to the zero value of Type.
	Default  any
	Required bool
}

// Signature is the explicit contract of a MapFunc.
type Signature struct {
	Params  []Param
	Outputs []string
}

// Declared adapts a MapFunc with an explicit Signature. Outputs the
// function does not return are simply not written.
type Declared struct {
	name    string
	sig     Signature
	fn      MapFunc
	names   nameMap
	strict  bool
	outputs []string
}

var _ Invoker = (*Declared)(nil)

// Declare builds an Invoker from a map-based function. Only WithMapping
// and WithTypeCheck apply; other options are ignored.
func Declare(name string, sig Signature, fn MapFunc, opts ...Option) (*Declared, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil MapFunc for %s", ErrNotFunction, name)
	}
	if !cell.ValidIdentifier(name) {
		return nil, fmt.Errorf("%w: adapter name %q", ErrInvalidSignature, name)
	}

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]bool)
	params := make([]string, 0, len(sig.Params))
	sig.Params = append([]Param(nil), sig.Params...)
	for i, p := range sig.Params {
		if !cell.ValidIdentifier(p.Name) || seen[p.Name] {
			return nil, fmt.Errorf("%w: %s: input %q", ErrInvalidSignature, name, p.Name)
		}
		seen[p.Name] = true
		params = append(params, p.Name)
		if !p.Required && p.Default == nil && p.Type != nil && !nillable(p.Type) {
			sig.Params[i].Default = reflect.Zero(p.Type).Interface()
		}
	}
	for _, o := range sig.Outputs {
		if !cell.ValidIdentifier(o) {
			return nil, fmt.Errorf("%w: %s: output %q", ErrInvalidSignature, name, o)
		}
	}

	names, err := newNameMap(s.mapping, params, [][]string{sig.Outputs})
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", name, err)
	}

	d := &Declared{
		name:    name,
		sig:     sig,
		fn:      fn,
		names:   names,
		strict:  s.typeCheck,
		outputs: append([]string(nil), sig.Outputs...),
	}
	logging.AdapterDebug("declared adapter %s: inputs=%v outputs=%v", name, params, sig.Outputs)
	return d, nil
}

func (d *Declared) Name() string { return d.name }

func (d *Declared) Inputs() []Input {
	inputs := make([]Input, len(d.sig.Params))
	for i, p := range d.sig.Params {
		def := p.Default
		if p.Required {
			def = cell.Absent
		}
		inputs[i] = Input{
			Name:     d.names.shared(p.Name),
			Local:    p.Name,
			Type:     p.Type,
			Required: p.Required,
			Default:  def,
		}
	}
	return inputs
}

func (d *Declared) Outputs() [][]string {
	if len(d.outputs) == 0 {
		return nil
	}
	return [][]string{d.names.sharedAll(d.outputs)}
}

func (d *Declared) Mapping() map[string]string { return d.names.mapping() }

// Call resolves arguments, invokes the MapFunc and keeps only declared outputs.
func (d *Declared) Call(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(d.sig.Params))
	for _, p := range d.sig.Params {
		shared := d.names.shared(p.Name)
		v, ok := inputs[shared]
		if !ok || cell.IsAbsent(v) {
			if p.Required {
				return nil, fmt.Errorf("%w: %s (adapter %s)", ErrMissingArgument, shared, d.name)
			}
			v = p.Default
		}
		if p.Type != nil {
			if d.strict && v != nil && !reflect.TypeOf(v).AssignableTo(p.Type) {
				return nil, fmt.Errorf("%w: %s is %T, %s wants %s", ErrInvalidArgType, shared, v, d.name, p.Type)
			}
			converted, err := cell.Coerce(v, p.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgType, shared, err)
			}
			v = converted
		}
		args[p.Name] = v
	}

	if ctx == nil {
		ctx = context.Background()
	}
	results, err := d.fn(ctx, args)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]any, len(d.outputs))
	for _, o := range d.outputs {
		if v, ok := results[o]; ok {
			outputs[d.names.shared(o)] = v
		}
	}
	return outputs, nil
}

func (d *Declared) String() string {
	return fmt.Sprintf("Declared(name=%s, inputs=%v, outputs=%v)", d.name, d.Inputs(), d.Outputs())
}
