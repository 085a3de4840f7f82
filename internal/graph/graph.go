// Package graph defines the dataflow graph that compiled functions
// execute: variables connected by applications of operations. The graph
// layer is purely structural; values live in storage cells owned by the
// linker, and operations compute through the Op interface.
package graph

import (
	"fmt"

	"github.com/vk/tensorlink/internal/value"
)

// Node is a graph variable. Implementations beyond the plain Variable
// (shared variables, constants) carry extra state but participate in the
// graph identically; node identity is interface identity.
type Node interface {
	// Type returns the node's declared value type.
	Type() value.Type
	// Name returns the display name, possibly empty.
	Name() string
	// Owner returns the Apply that computes this node, or nil for roots.
	Owner() *Apply
}

// Variable is the basic graph node.
type Variable struct {
	typ   value.Type
	name  string
	owner *Apply
	index int
}

// NewVariable creates a free variable of the given type.
func NewVariable(t value.Type, name string) *Variable {
	return &Variable{typ: t, name: name}
}

// Type implements Node.
func (v *Variable) Type() value.Type { return v.typ }

// Name implements Node.
func (v *Variable) Name() string { return v.name }

// Owner implements Node.
func (v *Variable) Owner() *Apply { return v.owner }

// Index returns this variable's position among its owner's outputs.
func (v *Variable) Index() int { return v.index }

// SetName overrides the display name.
func (v *Variable) SetName(name string) { v.name = name }

// String renders the variable for logs and errors.
func (v *Variable) String() string {
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("<%s>", v.typ.Name())
}

// Constant is a root node with an embedded literal value. Its storage
// cell is populated at link time and marked read-only.
type Constant struct {
	*Variable
	val any
}

// NewConstant creates a constant node holding v, which must pass the
// type's filter.
func NewConstant(t value.Type, v any, name string) (*Constant, error) {
	filtered, err := t.Filter(v, false, nil)
	if err != nil {
		return nil, fmt.Errorf("constant %q: %w", name, err)
	}
	return &Constant{Variable: NewVariable(t, name), val: filtered}, nil
}

// Value returns the embedded literal.
func (c *Constant) Value() any { return c.val }

// Op computes output values from input values. Implementations must be
// stateless so the same Op instance can serve many applies; per-node
// configuration belongs in distinct Op values registered under distinct
// codec names.
type Op interface {
	// Name returns the stable codec name used for serialization.
	Name() string
	// Perform computes outputs from inputs. One value per output node.
	Perform(inputs []any) ([]any, error)
}

// Apply is a single application of an Op to input nodes, producing
// freshly created output variables.
type Apply struct {
	Op      Op
	Inputs  []Node
	Outputs []*Variable
}

// NewApply wires op to the given inputs and creates one output variable
// per entry of outTypes, recording ownership on each.
func NewApply(op Op, inputs []Node, outTypes []value.Type) *Apply {
	a := &Apply{Op: op, Inputs: inputs}
	a.Outputs = make([]*Variable, len(outTypes))
	for i, t := range outTypes {
		out := NewVariable(t, "")
		out.owner = a
		out.index = i
		a.Outputs[i] = out
	}
	return a
}
