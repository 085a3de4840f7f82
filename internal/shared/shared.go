// Package shared implements variables whose values live in a storage
// cell shared between every compiled function that references them, the
// scoped recorder that captures newly created variables, and the
// constructor dispatch used to promote raw values into shared variables.
package shared

import (
	"fmt"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/link"
	"github.com/vk/tensorlink/internal/ops"
	"github.com/vk/tensorlink/internal/value"
)

// Variable is a graph node bound to exactly one storage cell. The cell
// outlives any single compiled function; mutating it through one handle
// is visible through every other handle and every function using it.
type Variable struct {
	*graph.Variable
	container     *link.Container
	defaultUpdate graph.Node
}

// NewVariable constructs a shared variable. Either a raw value is given
// (with optional strictness and downcast flags), in which case a fresh
// container is created and the value filtered into it, or an existing
// container is given, in which case value and strict must be absent:
// they are properties of the container, fixed at its construction.
//
// If a collect scope is active, the new variable is recorded in it.
func NewVariable(name string, typ value.Type, val any, strict *bool, allowDowncast *bool, container *link.Container) (*Variable, error) {
	v := &Variable{Variable: graph.NewVariable(typ, name)}

	if container != nil {
		if val != nil || strict != nil {
			return nil, fmt.Errorf("%w: value and strict are ignored when an existing container is supplied", value.ErrType)
		}
		v.container = container
	} else {
		isStrict := strict != nil && *strict
		c := link.NewContainer(typ, isStrict, allowDowncast)
		if err := c.Set(val, true); err != nil {
			return nil, fmt.Errorf("shared variable %q: %w", name, err)
		}
		v.container = c
	}
	v.container.MarkImplicit()

	record(v)
	return v, nil
}

// Container returns the variable's storage cell.
func (v *Variable) Container() *link.Container { return v.container }

// GetValue returns the cell's value. With borrow set, the internal
// object is returned directly and the caller accepts aliasing;
// otherwise a deep, independent copy. Only borrow combined with
// returnInternal guarantees the literal internal object — other
// combinations may return a converted representation.
func (v *Variable) GetValue(borrow, returnInternal bool) any {
	if borrow {
		return v.container.GetInternal()
	}
	// borrow=false always copies, whether or not the internal
	// representation was requested.
	return v.container.Get(false)
}

// SetValue stores a new value into the cell, deep-copying first unless
// borrow is set. The change is visible to every function using this
// variable.
func (v *Variable) SetValue(newValue any, borrow bool) error {
	return v.container.Set(newValue, borrow)
}

// Zero resets the cell to its additive identity; see Container.Zero for
// the borrow contract.
func (v *Variable) Zero(borrow bool) error {
	return v.container.Zero(borrow)
}

// Clone creates a second graph-level handle onto the same storage cell.
// Setting through the clone is visible through the original. An empty
// name keeps the original's.
func (v *Variable) Clone(name string) *Variable {
	if name == "" {
		name = v.Name()
	}
	cp, err := NewVariable(name, v.Type(), nil, nil, nil, v.container)
	if err != nil {
		// Unreachable: the container path never fails validation.
		panic(err)
	}
	cp.defaultUpdate = v.defaultUpdate
	return cp
}

// DefaultUpdate returns the expression recomputed and written back into
// the cell after each call of a function using this variable, or nil.
func (v *Variable) DefaultUpdate() graph.Node { return v.defaultUpdate }

// SetDefaultUpdate installs a default update expression, converting its
// type to the variable's own where permitted. A nil expression clears
// the update.
func (v *Variable) SetDefaultUpdate(expr graph.Node) error {
	if expr == nil {
		v.defaultUpdate = nil
		return nil
	}
	converted, err := ConvertNode(v.Type(), expr)
	if err != nil {
		return fmt.Errorf("default update for %q: %w", v.Name(), err)
	}
	v.defaultUpdate = converted
	return nil
}

// ConvertNode checks a graph expression against a target type, inserting
// a cast where conversion is permitted. Widening int64 to float64 is
// allowed; a lossy narrowing or a rank mismatch is a type error.
func ConvertNode(target value.Type, n graph.Node) (graph.Node, error) {
	tt, targetTensor := target.(*value.TensorType)
	if !targetTensor {
		// A generic target accepts any expression unchanged.
		return n, nil
	}
	nt, exprTensor := n.Type().(*value.TensorType)
	if !exprTensor {
		return nil, fmt.Errorf("%w: expression of type %s is not compatible with %s", value.ErrType, n.Type().Name(), target.Name())
	}
	if tt.NDim >= 0 && nt.NDim >= 0 && tt.NDim != nt.NDim {
		return nil, fmt.Errorf("%w: rank %d expression cannot convert to %s", value.ErrType, nt.NDim, target.Name())
	}
	if nt.DType == tt.DType {
		return n, nil
	}
	if tt.DType == value.Float64 {
		return ops.Cast(n, value.Float64), nil
	}
	return nil, fmt.Errorf("%w: converting %s to %s would downcast", value.ErrType, nt.Name(), tt.Name())
}
