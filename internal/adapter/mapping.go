package adapter

import (
	"fmt"
	"go/types"
	"sort"

	"porchlight/internal/cell"
	"porchlight/internal/logging"
)

// nameMap translates between a callable's local names and shared-pool names.
// The zero value is the identity mapping.
type nameMap struct {
	toLocal  map[string]string // shared -> local
	toShared map[string]string // local -> shared
}

// newNameMap validates mapping (shared -> local) against the callable's
// local parameter and output names.
func newNameMap(mapping map[string]string, params []string, outputs [][]string) (nameMap, error) {
	m := nameMap{
		toLocal:  make(map[string]string, len(mapping)),
		toShared: make(map[string]string, len(mapping)),
	}
	if len(mapping) == 0 {
		return m, nil
	}

	locals := make(map[string]bool)
	for _, p := range params {
		locals[p] = true
	}
	for _, point := range outputs {
		for _, n := range point {
			locals[n] = true
		}
	}

	// Deterministic error reporting.
	shared := make([]string, 0, len(mapping))
	for s := range mapping {
		shared = append(shared, s)
	}
	sort.Strings(shared)

	for _, s := range shared {
		local := mapping[s]
		if !cell.ValidIdentifier(s) {
			return nameMap{}, fmt.Errorf("%w: %q is not a valid name", ErrInvalidMapping, s)
		}
		if !locals[local] {
			return nameMap{}, fmt.Errorf("%w: %q is not an argument or output", ErrInvalidMapping, local)
		}
		if prev, dup := m.toShared[local]; dup {
			return nameMap{}, fmt.Errorf("%w: %q mapped twice (%s, %s)", ErrInvalidMapping, local, prev, s)
		}
		if types.Universe.Lookup(s) != nil {
			logging.AdapterWarn("mapped name %s shadows a predeclared identifier", s)
		}
		m.toLocal[s] = local
		m.toShared[local] = s
	}

	// A shared name may not collide with a local name that stays unmapped.
	for s := range m.toLocal {
		if locals[s] {
			if _, remapped := m.toShared[s]; !remapped {
				return nameMap{}, fmt.Errorf("%w: conflicting map key %q is also a local name", ErrInvalidMapping, s)
			}
		}
	}
	return m, nil
}

func (m nameMap) shared(local string) string {
	if s, ok := m.toShared[local]; ok {
		return s
	}
	return local
}

func (m nameMap) local(shared string) string {
	if l, ok := m.toLocal[shared]; ok {
		return l
	}
	return shared
}

func (m nameMap) sharedAll(locals []string) []string {
	if locals == nil {
		return nil
	}
	out := make([]string, len(locals))
	for i, l := range locals {
		out[i] = m.shared(l)
	}
	return out
}

// mapping returns a copy of the shared -> local table.
func (m nameMap) mapping() map[string]string {
	out := make(map[string]string, len(m.toLocal))
	for k, v := range m.toLocal {
		out[k] = v
	}
	return out
}
