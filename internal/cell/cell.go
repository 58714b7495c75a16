// Package cell provides the named, typed value container shared between
// adapters. A cell starts out holding Absent, learns its type from the first
// concrete value written to it, and can be frozen against further changes.
package cell

import (
	"fmt"
	"go/token"
	"reflect"

	"porchlight/internal/logging"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent marks a cell that was declared but never produced. It is distinct
// from nil, which is a real value.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// ValidIdentifier reports whether name can be used as a cell or argument name.
// Go identifier rules apply; keywords and the blank identifier are rejected.
func ValidIdentifier(name string) bool {
	return name != "_" && token.IsIdentifier(name)
}

// Option configures a Cell at construction.
type Option func(*Cell)

// WithType fixes the declared type up front. Later writes must be
// assignable (or numerically convertible) to it.
func WithType(t reflect.Type) Option {
	return func(c *Cell) {
		c.typ = t
		c.explicitType = t != nil
	}
}

// Immutable creates the cell frozen. An immutable cell still accepts its
// first concrete value if it starts out Absent.
func Immutable() Option {
	return func(c *Cell) { c.mutable = false }
}

// WithRestriction installs a predicate every concrete write must satisfy.
func WithRestriction(fn func(any) bool) Option {
	return func(c *Cell) { c.restrict = fn }
}

// Cell is one named value in the shared pool.
type Cell struct {
	name         string
	value        any
	typ          reflect.Type
	explicitType bool
	mutable      bool
	restrict     func(any) bool
}

// New creates a cell. Pass Absent as value for a declared-but-unset cell.
func New(name string, value any, opts ...Option) (*Cell, error) {
	if !ValidIdentifier(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c := &Cell{name: name, value: Absent, mutable: true}
	for _, opt := range opts {
		opt(c)
	}

	if !IsAbsent(value) {
		v, err := c.check(value)
		if err != nil {
			return nil, err
		}
		c.value = v
		c.inferType(v)
	}

	logging.CellDebug("created cell %s (type=%s, mutable=%v)", name, c.TypeName(), c.mutable)
	return c, nil
}

// MustNew is New for static setup; it panics on error.
func MustNew(name string, value any, opts ...Option) *Cell {
	c, err := New(name, value, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the cell's identifier.
func (c *Cell) Name() string { return c.name }

// Get returns the current value, which may be Absent.
func (c *Cell) Get() any { return c.value }

// IsAbsent reports whether the cell has never been given a value.
func (c *Cell) IsAbsent() bool { return IsAbsent(c.value) }

// Mutable reports whether writes are currently allowed.
func (c *Cell) Mutable() bool { return c.mutable }

// SetMutable toggles the immutability guard.
func (c *Cell) SetMutable(mutable bool) {
	c.mutable = mutable
	logging.CellDebug("cell %s mutable=%v", c.name, mutable)
}

// Type returns the declared type, or the type of the value held, or nil
// while the cell is absent or holds nil.
func (c *Cell) Type() reflect.Type { return c.typ }

// TypeName renders the declared type for diagnostics.
func (c *Cell) TypeName() string {
	if c.typ == nil {
		if c.IsAbsent() {
			return "absent"
		}
		return "unconstrained"
	}
	return c.typ.String()
}

// Set replaces the stored value.
func (c *Cell) Set(v any) error {
	if !c.mutable && !c.IsAbsent() && !reflect.DeepEqual(c.value, v) {
		logging.CellWarn("rejected write to immutable cell %s", c.name)
		return fmt.Errorf("%w: %s", ErrImmutable, c.name)
	}

	if IsAbsent(v) {
		c.value = Absent
		c.inferType(nil)
		return nil
	}

	v, err := c.check(v)
	if err != nil {
		return err
	}
	c.value = v
	c.inferType(v)
	return nil
}

func (c *Cell) check(v any) (any, error) {
	if c.explicitType {
		converted, err := Coerce(v, c.typ)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, c.name, err)
		}
		v = converted
	}
	if c.restrict != nil && !c.restrict(v) {
		logging.CellWarn("restriction on %s rejected %v", c.name, v)
		return nil, fmt.Errorf("%w: %s=%v", ErrRestricted, c.name, v)
	}
	return v, nil
}

// inferType tracks the type of the value held, unless a type was declared.
func (c *Cell) inferType(v any) {
	if !c.explicitType {
		c.typ = reflect.TypeOf(v)
	}
}

// State is a read-only view of a cell for diagnostics and persistence.
type State struct {
	Name    string
	Value   any
	Type    string
	Mutable bool
}

// State captures the cell's current contents.
func (c *Cell) State() State {
	return State{
		Name:    c.name,
		Value:   c.value,
		Type:    c.TypeName(),
		Mutable: c.mutable,
	}
}

func (c *Cell) String() string {
	return fmt.Sprintf("Cell(name=%s, value=%v, type=%s, mutable=%v)", c.name, c.value, c.TypeName(), c.mutable)
}
