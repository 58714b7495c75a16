package adapter

import (
	"context"
	"fmt"
	"sync"

	"porchlight/internal/logging"
)

// Generator produces the Invoker a Dynamic adapter currently stands for.
type Generator func(ctx context.Context) (Invoker, error)

// Dynamic is an Invoker whose contract is produced by a Generator. Every
// Call uses a fresh generation: the one made by a preceding Refresh, or a
// new one when the last generation has already been called.
type Dynamic struct {
	name string
	gen  Generator

	mu      sync.RWMutex
	current Invoker
	gens    int
	fresh   bool
}

var (
	_ Invoker   = (*Dynamic)(nil)
	_ Refresher = (*Dynamic)(nil)
)

// NewDynamic returns a Dynamic adapter. The generator is not run until the
// first Refresh or Call; until then the contract is empty.
func NewDynamic(name string, gen Generator) (*Dynamic, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: nil generator for %s", ErrNotFunction, name)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: dynamic adapter needs a name", ErrInvalidSignature)
	}
	return &Dynamic{name: name, gen: gen}, nil
}

func (d *Dynamic) Name() string { return d.name }

// Refresh runs the generator and replaces the current contract.
func (d *Dynamic) Refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	inv, err := d.gen(ctx)
	if err != nil {
		return fmt.Errorf("dynamic adapter %s: %w", d.name, err)
	}
	if inv == nil {
		return fmt.Errorf("%w: generator for %s returned nil", ErrNotFunction, d.name)
	}

	d.mu.Lock()
	d.current = inv
	d.gens++
	d.fresh = true
	n := d.gens
	d.mu.Unlock()

	logging.AdapterDebug("dynamic adapter %s regenerated (#%d) as %s", d.name, n, inv.Name())
	return nil
}

// Current returns the most recently generated Invoker, or nil.
func (d *Dynamic) Current() Invoker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Generations counts successful Refresh calls.
func (d *Dynamic) Generations() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gens
}

func (d *Dynamic) Inputs() []Input {
	if cur := d.Current(); cur != nil {
		return cur.Inputs()
	}
	return nil
}

func (d *Dynamic) Outputs() [][]string {
	if cur := d.Current(); cur != nil {
		return cur.Outputs()
	}
	return nil
}

// Call calls the current generation, regenerating first unless a Refresh
// happened since the previous Call.
func (d *Dynamic) Call(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	d.mu.RLock()
	fresh := d.fresh
	d.mu.RUnlock()
	if !fresh {
		if err := d.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	cur := d.current
	d.fresh = false
	d.mu.Unlock()
	return cur.Call(ctx, inputs)
}

func (d *Dynamic) String() string {
	if cur := d.Current(); cur != nil {
		return fmt.Sprintf("Dynamic(name=%s, current=%s)", d.name, cur.Name())
	}
	return fmt.Sprintf("Dynamic(name=%s, ungenerated)", d.name)
}
