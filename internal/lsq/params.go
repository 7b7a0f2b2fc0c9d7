// Package lsq provides ordered fit parameters and nonlinear
// least-squares minimization on top of gonum/optimize.
package lsq

import (
	"fmt"
	"math"
)

// Param describes a single fit parameter.
//
// A Param with Min == Max == 0 is treated as unbounded; every real
// bound in the model catalog is one-sided or has distinct limits.
type Param struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
	// Vary marks the parameter as free during fitting.
	Vary bool
	// Expr is a human-readable description of a parameter that is
	// computed from other parameters instead of being varied; ExprFn
	// evaluates it. A parameter with ExprFn set is never varied.
	Expr   string
	ExprFn func(*Parameters) float64
}

// Parameters is an ordered collection of fit parameters. Order matters:
// model forward functions and registry validation rely on the insertion
// order matching the declared parameter keys.
type Parameters struct {
	order  []string
	params map[string]*Param
}

// NewParameters returns an empty parameter set.
func NewParameters() *Parameters {
	return &Parameters{params: make(map[string]*Param)}
}

// Add inserts a parameter, normalizing zero bounds to unbounded.
// Adding an existing name overwrites the value in place.
func (ps *Parameters) Add(p Param) {
	if p.Min == 0 && p.Max == 0 {
		p.Min = math.Inf(-1)
		p.Max = math.Inf(1)
	}
	if p.ExprFn != nil {
		p.Vary = false
	}
	if _, ok := ps.params[p.Name]; !ok {
		ps.order = append(ps.order, p.Name)
	}
	cp := p
	ps.params[p.Name] = &cp
}

// Has reports whether a parameter with the given name exists.
func (ps *Parameters) Has(name string) bool {
	_, ok := ps.params[name]
	return ok
}

// Get returns the named parameter.
func (ps *Parameters) Get(name string) (*Param, error) {
	p, ok := ps.params[name]
	if !ok {
		return nil, fmt.Errorf("no parameter %q", name)
	}
	return p, nil
}

// Value returns the current value of the named parameter; it panics on
// unknown names, which indicates a model implementation bug.
func (ps *Parameters) Value(name string) float64 {
	p, ok := ps.params[name]
	if !ok {
		panic(fmt.Sprintf("lsq: no parameter %q", name))
	}
	return p.Value
}

// SetValue updates the value of an existing parameter.
func (ps *Parameters) SetValue(name string, value float64) error {
	p, ok := ps.params[name]
	if !ok {
		return fmt.Errorf("no parameter %q", name)
	}
	p.Value = value
	return nil
}

// SetVary updates the vary flag of an existing parameter.
func (ps *Parameters) SetVary(name string, vary bool) error {
	p, ok := ps.params[name]
	if !ok {
		return fmt.Errorf("no parameter %q", name)
	}
	p.Vary = vary
	return nil
}

// Names returns the parameter names in insertion order.
func (ps *Parameters) Names() []string {
	names := make([]string, len(ps.order))
	copy(names, ps.order)
	return names
}

// Len returns the number of parameters.
func (ps *Parameters) Len() int { return len(ps.order) }

// CountVaried returns the number of free parameters.
func (ps *Parameters) CountVaried() int {
	n := 0
	for _, name := range ps.order {
		if ps.params[name].Vary {
			n++
		}
	}
	return n
}

// Copy returns a deep copy of the parameter set.
func (ps *Parameters) Copy() *Parameters {
	out := NewParameters()
	for _, name := range ps.order {
		out.Add(*ps.params[name])
	}
	return out
}

// Equal reports whether two parameter sets have identical order,
// values, bounds, vary flags and expressions.
func (ps *Parameters) Equal(other *Parameters) bool {
	if ps == nil || other == nil {
		return ps == other
	}
	if len(ps.order) != len(other.order) {
		return false
	}
	for i, name := range ps.order {
		if other.order[i] != name {
			return false
		}
		a, b := ps.params[name], other.params[name]
		if a.Value != b.Value || a.Min != b.Min || a.Max != b.Max ||
			a.Vary != b.Vary || a.Expr != b.Expr {
			return false
		}
	}
	return true
}

// evalExprs recomputes all expression-linked parameters in insertion
// order.
func (ps *Parameters) evalExprs() {
	for _, name := range ps.order {
		p := ps.params[name]
		if p.ExprFn != nil {
			p.Value = p.ExprFn(ps)
		}
	}
}
