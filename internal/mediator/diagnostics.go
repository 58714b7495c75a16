package mediator

import (
	"fmt"
	"strings"

	"porchlight/internal/adapter"
	"porchlight/internal/cell"
)

// AdapterInfo describes one registered adapter.
type AdapterInfo struct {
	Name     string
	Inputs   []string
	Required []string
	Outputs  [][]string
}

// Snapshot is a read-only view of a mediator's registration and pool.
type Snapshot struct {
	ID        string
	Steps     int
	Adapters  []AdapterInfo
	CallOrder []string
	Cells     []cell.State
}

// Snapshot captures adapters in registration order and cells sorted by name.
func (m *Mediator) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        m.id,
		Steps:     m.steps,
		CallOrder: m.CallOrder(),
		Cells:     m.states(),
	}
	for _, name := range m.added {
		inv := m.adapters[name]
		info := AdapterInfo{
			Name:     name,
			Required: adapter.RequiredInputs(inv),
			Outputs:  inv.Outputs(),
		}
		for _, in := range inv.Inputs() {
			info.Inputs = append(info.Inputs, in.Name)
		}
		snap.Adapters = append(snap.Adapters, info)
	}
	return snap
}

func (m *Mediator) states() []cell.State {
	names := m.Names()
	states := make([]cell.State, len(names))
	for i, name := range names {
		states[i] = m.pool[name].State()
	}
	return states
}

// EmptyCells lists names whose cells hold Absent, sorted.
func (m *Mediator) EmptyCells() []string {
	var names []string
	for _, name := range m.Names() {
		if m.pool[name].IsAbsent() {
			names = append(names, name)
		}
	}
	return names
}

// RequiredInputs lists the inputs that must hold a value before a step:
// required inputs of each adapter, in call order, that no earlier adapter
// produces.
func (m *Mediator) RequiredInputs() []string {
	produced := make(map[string]bool)
	seen := make(map[string]bool)
	var names []string
	for _, name := range m.callOrder {
		inv := m.adapters[name]
		for _, in := range adapter.RequiredInputs(inv) {
			if !produced[in] && !seen[in] {
				seen[in] = true
				names = append(names, in)
			}
		}
		for _, point := range inv.Outputs() {
			for _, out := range point {
				produced[out] = true
			}
		}
	}
	return names
}

// UninitializedInputs lists required inputs of any adapter whose cells
// hold Absent, in call order.
func (m *Mediator) UninitializedInputs() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range m.callOrder {
		for _, in := range adapter.RequiredInputs(m.adapters[name]) {
			if !seen[in] && m.absent(in) {
				seen[in] = true
				names = append(names, in)
			}
		}
	}
	return names
}

// RequiredInputsPresent reports whether a step can start.
func (m *Mediator) RequiredInputsPresent() bool {
	return len(m.missingInputs()) == 0
}

func (m *Mediator) missingInputs() []string {
	var missing []string
	for _, name := range m.RequiredInputs() {
		if m.absent(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func (m *Mediator) absent(name string) bool {
	c, ok := m.pool[name]
	return !ok || c.IsAbsent()
}

func (m *Mediator) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mediator(id=%s, steps=%d, order=%v)", m.id, m.steps, m.callOrder)
	for _, st := range m.states() {
		fmt.Fprintf(&b, "\n  %s=%v (%s, mutable=%v)", st.Name, st.Value, st.Type, st.Mutable)
	}
	return b.String()
}
