// Package mediator owns a pool of named cells and an ordered set of
// adapters, and steps them: each adapter in call order reads the pool,
// runs, and has its outputs written back before the next one starts.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"porchlight/internal/adapter"
	"porchlight/internal/cell"
	"porchlight/internal/logging"
)

// StepHook runs after every completed step with the pool as it stands.
type StepHook func(ctx context.Context, step int, cells []cell.State) error

// Option configures a Mediator.
type Option func(*Mediator)

// WithID sets the run identifier used in audit records (default: a UUID).
func WithID(id string) Option {
	return func(m *Mediator) { m.id = id }
}

// WithInitialization adds invokers run once, before the first step.
func WithInitialization(invs ...adapter.Invoker) Option {
	return func(m *Mediator) { m.initialization = append(m.initialization, invs...) }
}

// WithFinalization adds invokers run by Finalize.
func WithFinalization(invs ...adapter.Invoker) Option {
	return func(m *Mediator) { m.finalization = append(m.finalization, invs...) }
}

// WithStepHook adds a hook run after each completed step.
func WithStepHook(hook StepHook) Option {
	return func(m *Mediator) { m.hooks = append(m.hooks, hook) }
}

// AddOption configures a single AddAdapter call.
type AddOption func(*addSettings)

type addSettings struct {
	overwriteDefaults bool
}

// WithOverwriteDefaults writes the adapter's defaults into cells that
// already exist, not only into cells it creates.
func WithOverwriteDefaults() AddOption {
	return func(s *addSettings) { s.overwriteDefaults = true }
}

// Mediator is not safe for concurrent use; one caller drives the steps.
type Mediator struct {
	id        string
	adapters  map[string]adapter.Invoker
	added     []string
	callOrder []string
	pool      map[string]*cell.Cell

	initialization []adapter.Invoker
	finalization   []adapter.Invoker
	initialized    bool
	hooks          []StepHook

	steps int
	audit *logging.AuditLogger
}

// New returns an empty Mediator.
func New(opts ...Option) *Mediator {
	m := &Mediator{
		adapters: make(map[string]adapter.Invoker),
		pool:     make(map[string]*cell.Cell),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}
	m.audit = logging.AuditWithRun(m.id)
	return m
}

// ID returns the run identifier.
func (m *Mediator) ID() string { return m.id }

// Steps counts completed steps.
func (m *Mediator) Steps() int { return m.steps }

// =============================================================================
// ADAPTERS
// =============================================================================

// AddAdapter registers inv at the end of the call order and creates a cell
// for each of its inputs not yet in the pool, holding the input's default
// or Absent.
func (m *Mediator) AddAdapter(inv adapter.Invoker, opts ...AddOption) error {
	if inv == nil {
		return fmt.Errorf("%w: nil adapter", adapter.ErrNotFunction)
	}
	s := &addSettings{}
	for _, opt := range opts {
		opt(s)
	}

	name := inv.Name()
	if name == "" {
		return fmt.Errorf("%w: adapter has no name", cell.ErrInvalidName)
	}
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, name)
	}
	if err := m.declareInputs(inv, s.overwriteDefaults); err != nil {
		return fmt.Errorf("adapter %s: %w", name, err)
	}

	m.adapters[name] = inv
	m.added = append(m.added, name)
	m.callOrder = append(m.callOrder, name)

	m.audit.Log(logging.AuditEvent{
		EventType: logging.AuditAdapterAdd,
		Step:      m.steps,
		Target:    name,
		Success:   true,
		Fields:    map[string]interface{}{"inputs": adapter.Variables(inv)},
	})
	logging.MediatorDebug("added adapter %s (order %v)", name, m.callOrder)
	return nil
}

// AddFunc wraps fn in an adapter and registers it.
func (m *Mediator) AddFunc(fn any, opts ...adapter.Option) (*adapter.Adapter, error) {
	a, err := adapter.New(fn, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.AddAdapter(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (m *Mediator) declareInputs(inv adapter.Invoker, overwrite bool) error {
	for _, in := range inv.Inputs() {
		hasDefault := !in.Required && !cell.IsAbsent(in.Default) && !in.Variadic
		c, exists := m.pool[in.Name]
		switch {
		case !exists:
			value := cell.Absent
			if hasDefault {
				value = in.Default
			}
			if _, err := m.create(in.Name, value); err != nil {
				return err
			}
		case overwrite && hasDefault:
			if err := c.Set(in.Default); err != nil {
				return fmt.Errorf("default for %s: %w", in.Name, err)
			}
		}
	}
	return nil
}

// RemoveAdapter unregisters an adapter. Its cells stay in the pool.
func (m *Mediator) RemoveAdapter(name string) error {
	if _, ok := m.adapters[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAdapter, name)
	}
	delete(m.adapters, name)
	m.added = without(m.added, name)
	m.callOrder = without(m.callOrder, name)

	m.audit.Log(logging.AuditEvent{
		EventType: logging.AuditAdapterRemove,
		Step:      m.steps,
		Target:    name,
		Success:   true,
	})
	return nil
}

func without(names []string, drop string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

// Adapter returns a registered adapter.
func (m *Mediator) Adapter(name string) (adapter.Invoker, bool) {
	inv, ok := m.adapters[name]
	return inv, ok
}

// Adapters lists adapter names in registration order.
func (m *Mediator) Adapters() []string { return append([]string(nil), m.added...) }

// CallOrder lists adapter names in the order steps run them.
func (m *Mediator) CallOrder() []string { return append([]string(nil), m.callOrder...) }

// OrderAdapters replaces the call order. order must name every registered
// adapter exactly once.
func (m *Mediator) OrderAdapters(order []string) error {
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if _, ok := m.adapters[name]; !ok {
			return fmt.Errorf("%w: unknown adapter %s", ErrOrdering, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: %s listed twice", ErrOrdering, name)
		}
		seen[name] = true
	}
	if len(seen) != len(m.adapters) {
		var missing []string
		for _, name := range m.added {
			if !seen[name] {
				missing = append(missing, name)
			}
		}
		return fmt.Errorf("%w: missing %s", ErrOrdering, strings.Join(missing, ", "))
	}

	m.callOrder = append([]string(nil), order...)
	m.audit.Log(logging.AuditEvent{
		EventType: logging.AuditOrderChange,
		Step:      m.steps,
		Success:   true,
		Fields:    map[string]interface{}{"order": m.callOrder},
	})
	return nil
}

// =============================================================================
// POOL
// =============================================================================

func (m *Mediator) create(name string, value any, opts ...cell.Option) (*cell.Cell, error) {
	c, err := cell.New(name, value, opts...)
	if err != nil {
		return nil, err
	}
	m.pool[name] = c
	return c, nil
}

// write sets name in the pool, creating the cell when missing.
func (m *Mediator) write(step int, name string, value any, opts ...cell.Option) error {
	c, exists := m.pool[name]
	var err error
	if exists {
		err = c.Set(value)
	} else {
		_, err = m.create(name, value, opts...)
	}
	m.audit.CellWrite(step, name, !exists, err)
	return err
}

// SetValue writes a value, creating the cell if needed.
func (m *Mediator) SetValue(name string, value any) error {
	return m.write(m.steps, name, value)
}

// SetConstant writes a value and marks the cell immutable.
func (m *Mediator) SetConstant(name string, value any) error {
	if err := m.write(m.steps, name, value, cell.Immutable()); err != nil {
		return err
	}
	m.pool[name].SetMutable(false)
	return nil
}

// SetMutable toggles a cell's mutability.
func (m *Mediator) SetMutable(name string, mutable bool) error {
	c, ok := m.pool[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	c.SetMutable(mutable)
	return nil
}

// GetValue returns the current value of name, which may be cell.Absent.
func (m *Mediator) GetValue(name string) (any, error) {
	c, ok := m.pool[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return c.Get(), nil
}

// Cell returns the state of one cell.
func (m *Mediator) Cell(name string) (cell.State, bool) {
	c, ok := m.pool[name]
	if !ok {
		return cell.State{}, false
	}
	return c.State(), true
}

// Names lists pool names, sorted.
func (m *Mediator) Names() []string {
	names := make([]string, 0, len(m.pool))
	for name := range m.pool {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Mediator) values() map[string]any {
	values := make(map[string]any, len(m.pool))
	for name, c := range m.pool {
		values[name] = c.Get()
	}
	return values
}

// =============================================================================
// EXECUTION
// =============================================================================

// RunStep runs every adapter once, in call order. Outputs are written back
// as soon as each adapter returns, so later adapters read them in the same
// step. An adapter's own error is returned as is and ends the step; values
// already written stay in the pool.
func (m *Mediator) RunStep(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.initialize(ctx); err != nil {
		return err
	}
	if missing := m.missingInputs(); len(missing) > 0 {
		err := fmt.Errorf("%w: %s", adapter.ErrMissingArgument, strings.Join(missing, ", "))
		logging.MediatorError("step %d not started: %v", m.steps+1, err)
		return err
	}

	step := m.steps + 1
	timer := logging.StartTimer(logging.CategoryMediator, fmt.Sprintf("RunStep(%d)", step))
	start := time.Now()
	m.audit.StepStart(step, m.callOrder)

	for _, name := range m.callOrder {
		if err := ctx.Err(); err != nil {
			m.audit.StepEnd(step, time.Since(start), err)
			timer.Stop()
			return err
		}
		if _, err := m.invoke(ctx, step, m.adapters[name]); err != nil {
			m.audit.StepEnd(step, time.Since(start), err)
			timer.Stop()
			return err
		}
	}

	m.steps = step
	m.audit.StepEnd(step, time.Since(start), nil)
	timer.Stop()

	if len(m.hooks) > 0 {
		states := m.states()
		for _, hook := range m.hooks {
			if err := hook(ctx, step, states); err != nil {
				return fmt.Errorf("step %d hook: %w", step, err)
			}
		}
	}
	return nil
}

// RunSteps calls RunStep n times, stopping at the first error.
func (m *Mediator) RunSteps(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := m.RunStep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Call runs a single registered adapter against the pool and writes its
// outputs back. It does not count as a step.
func (m *Mediator) Call(ctx context.Context, name string) (map[string]any, error) {
	inv, ok := m.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return m.invoke(ctx, m.steps, inv)
}

func (m *Mediator) invoke(ctx context.Context, step int, inv adapter.Invoker) (map[string]any, error) {
	if r, ok := inv.(adapter.Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			m.audit.AdapterCall(step, inv.Name(), 0, nil, err)
			return nil, err
		}
		if err := m.declareInputs(inv, false); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", inv.Name(), err)
		}
	}

	start := time.Now()
	outputs, err := inv.Call(ctx, m.values())
	names := sortedKeys(outputs)
	m.audit.AdapterCall(step, inv.Name(), time.Since(start), names, err)
	if err != nil {
		logging.MediatorDebug("adapter %s failed: %v", inv.Name(), err)
		return nil, err
	}

	for _, name := range names {
		if err := m.write(step, name, outputs[name]); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", inv.Name(), err)
		}
	}
	return outputs, nil
}

// initialize runs the initialization invokers once. Their outputs update
// existing cells and create new ones.
func (m *Mediator) initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	for _, inv := range m.initialization {
		if _, err := m.runAside(ctx, inv, false); err != nil {
			return fmt.Errorf("initialization %s: %w", inv.Name(), err)
		}
	}
	m.initialized = true
	if len(m.initialization) > 0 {
		logging.Mediator("initialization complete (%d invokers)", len(m.initialization))
	}
	return nil
}

// Finalize runs the finalization invokers. Outputs that name new cells are
// stored as constants.
func (m *Mediator) Finalize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, inv := range m.finalization {
		if _, err := m.runAside(ctx, inv, true); err != nil {
			return fmt.Errorf("finalization %s: %w", inv.Name(), err)
		}
	}
	return nil
}

func (m *Mediator) runAside(ctx context.Context, inv adapter.Invoker, freezeNew bool) (map[string]any, error) {
	outputs, err := inv.Call(ctx, m.values())
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(outputs) {
		var opts []cell.Option
		if _, exists := m.pool[name]; !exists && freezeNew {
			opts = append(opts, cell.Immutable())
		}
		if err := m.write(m.steps, name, outputs[name], opts...); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsMissing reports whether err comes from an input without a value.
func IsMissing(err error) bool {
	return errors.Is(err, adapter.ErrMissingArgument)
}
