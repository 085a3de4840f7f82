// Package program loads tensorlink programs from HCL: declarations of
// shared variables, free inputs and compiled functions, with expressions
// translated into the dataflow graph.
package program

import (
	"github.com/hashicorp/hcl/v2"
)

// sharedBlock declares a shared variable seeded from a literal value.
type sharedBlock struct {
	Name          string         `hcl:"name,label"`
	Value         hcl.Expression `hcl:"value"`
	DType         *string        `hcl:"dtype,optional"`
	Strict        *bool          `hcl:"strict,optional"`
	AllowDowncast *bool          `hcl:"allow_downcast,optional"`
}

// inputBlock declares a caller-supplied function input.
type inputBlock struct {
	Name   string  `hcl:"name,label"`
	DType  *string `hcl:"dtype,optional"`
	NDim   *int    `hcl:"ndim,optional"`
	Borrow *bool   `hcl:"borrow,optional"`
}

// outputBlock declares one designated output of a function.
type outputBlock struct {
	Name string         `hcl:"name,label"`
	Expr hcl.Expression `hcl:"expr"`
}

// updateBlock declares an expression written back into a shared variable
// after each call.
type updateBlock struct {
	Target string         `hcl:"target,label"`
	Expr   hcl.Expression `hcl:"expr"`
}

// modeBlock selects the linker and GC policy.
type modeBlock struct {
	Linker *string `hcl:"linker,optional"`
	GC     *bool   `hcl:"gc,optional"`
}

// functionBlock declares one compiled function.
type functionBlock struct {
	Name    string         `hcl:"name,label"`
	Outputs []*outputBlock `hcl:"output,block"`
	Updates []*updateBlock `hcl:"update,block"`
	Mode    *modeBlock     `hcl:"mode,block"`
}

// programFile is the top-level structure of a program file.
type programFile struct {
	Shareds   []*sharedBlock   `hcl:"shared,block"`
	Inputs    []*inputBlock    `hcl:"input,block"`
	Functions []*functionBlock `hcl:"function,block"`
}
