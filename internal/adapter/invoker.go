// Package adapter turns Go functions into declarative contracts of named
// inputs, defaults and named outputs.
//
// The names come from the function's own source: parameter names from its
// signature and output names from the bare identifiers its return
// statements return. For
//
//	func Orbit(x, v float64, dt float64) (float64, float64) {
//		x = x + v*dt
//		return x, v
//	}
//
// the adapter reads x, v and dt and writes x and v. A leading
// context.Context parameter receives the caller's context, and a trailing
// error result is treated as the function's failure, passed back untouched.
//
// Variants:
//
//	New      compiled function or closure, introspected from its source file
//	Declare  map-in/map-out function with an explicit Signature
//	Dynamic  regenerates its inner Invoker on demand
//
// Interpreted source text is handled by package script, which builds on New.
package adapter

import (
	"context"
	"reflect"
)

// Invoker is a callable with a declared input/output name contract.
// All names are shared-pool names (after mapping).
type Invoker interface {
	// Name identifies the invoker inside a mediator.
	Name() string

	// Inputs lists the declared parameters in declaration order.
	Inputs() []Input

	// Outputs lists the tracked output names of every return point, in
	// source order. Untracked return points are omitted.
	Outputs() [][]string

	// Call resolves inputs from the given shared values, invokes the
	// callable and returns its results keyed by shared name.
	Call(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Refresher is implemented by invokers whose contract can change between
// calls. Mediators refresh them before resolving their inputs.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Input describes one declared parameter.
type Input struct {
	// Name is the shared-pool name.
	Name string

	// Local is the parameter's own name inside the callable.
	Local string

	// Type is the static parameter type, or nil when unconstrained.
	Type reflect.Type

	// Required is false when a default exists.
	Required bool

	// Default holds the default value; cell.Absent when Required.
	Default any

	// Variadic marks a trailing ...T parameter.
	Variadic bool
}

// Variables returns every shared name an invoker reads or writes, inputs
// first, without duplicates.
func Variables(inv Invoker) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, in := range inv.Inputs() {
		add(in.Name)
	}
	for _, point := range inv.Outputs() {
		for _, n := range point {
			add(n)
		}
	}
	return names
}

// RequiredInputs returns the shared names of inputs without defaults.
func RequiredInputs(inv Invoker) []string {
	var names []string
	for _, in := range inv.Inputs() {
		if in.Required {
			names = append(names, in.Name)
		}
	}
	return names
}
