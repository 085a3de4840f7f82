package program

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/tensorlink/internal/compile"
	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/shared"
	"github.com/vk/tensorlink/internal/value"
)

// Program is a loaded program file: its shared variables, declared
// inputs and function definitions, ready to be compiled.
type Program struct {
	// Source is the raw HCL text, kept for the snapshot store.
	Source string

	shareds     map[string]*shared.Variable
	sharedOrder []string
	inputs      map[string]*graph.Variable
	inputOrder  []string
	inputBorrow map[string]bool
	functions   []*functionBlock
}

// BuiltFunction pairs a compiled function with the declared names of its
// inputs and outputs.
type BuiltFunction struct {
	*compile.Function
	InputNames  []string
	OutputNames []string
}

// Load reads and parses a program file from disk.
func Load(ctx context.Context, path string) (*Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program file: %w", err)
	}
	return Parse(ctx, src, path)
}

// Parse builds a Program from HCL source.
func Parse(ctx context.Context, src []byte, filename string) (*Program, error) {
	logger := ctxlog.FromContext(ctx)

	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", filename, diags)
	}
	var pf programFile
	if diags := gohcl.DecodeBody(file.Body, nil, &pf); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", filename, diags)
	}

	p := &Program{
		Source:      string(src),
		shareds:     make(map[string]*shared.Variable),
		inputs:      make(map[string]*graph.Variable),
		inputBorrow: make(map[string]bool),
		functions:   pf.Functions,
	}

	for _, sb := range pf.Shareds {
		if _, dup := p.shareds[sb.Name]; dup {
			return nil, fmt.Errorf("duplicate shared variable %q", sb.Name)
		}
		dtype, err := parseDType(sb.DType)
		if err != nil {
			return nil, fmt.Errorf("shared %q: %w", sb.Name, err)
		}
		lit, diags := sb.Value.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("shared %q: evaluating value: %w", sb.Name, diags)
		}
		t, err := ctyToTensor(lit, dtype)
		if err != nil {
			return nil, fmt.Errorf("shared %q: %w", sb.Name, err)
		}

		opts := []shared.Option{shared.WithName(sb.Name)}
		if sb.Strict != nil {
			opts = append(opts, shared.WithStrict(*sb.Strict))
		}
		if sb.AllowDowncast != nil {
			opts = append(opts, shared.WithAllowDowncast(*sb.AllowDowncast))
		}
		sv, err := shared.New(ctx, t, opts...)
		if err != nil {
			return nil, fmt.Errorf("shared %q: %w", sb.Name, err)
		}
		p.shareds[sb.Name] = sv
		p.sharedOrder = append(p.sharedOrder, sb.Name)
	}

	for _, ib := range pf.Inputs {
		if _, dup := p.inputs[ib.Name]; dup {
			return nil, fmt.Errorf("duplicate input %q", ib.Name)
		}
		dtype := value.Float64
		if ib.DType != nil {
			d, err := value.ParseDType(*ib.DType)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", ib.Name, err)
			}
			dtype = d
		}
		ndim := 0
		if ib.NDim != nil {
			ndim = *ib.NDim
		}
		p.inputs[ib.Name] = graph.NewVariable(value.TensorOf(dtype, ndim), ib.Name)
		p.inputOrder = append(p.inputOrder, ib.Name)
		p.inputBorrow[ib.Name] = ib.Borrow != nil && *ib.Borrow
	}

	logger.Debug("Program parsed.",
		"file", filename,
		"shared", len(p.shareds),
		"inputs", len(p.inputs),
		"functions", len(p.functions),
	)
	return p, nil
}

// Shared returns a declared shared variable by name.
func (p *Program) Shared(name string) (*shared.Variable, bool) {
	sv, ok := p.shareds[name]
	return sv, ok
}

// FunctionNames lists the declared functions in file order.
func (p *Program) FunctionNames() []string {
	names := make([]string, len(p.functions))
	for i, fb := range p.functions {
		names[i] = fb.Name
	}
	return names
}

// scope returns the name-to-node binding visible to expressions.
func (p *Program) scope() map[string]graph.Node {
	s := make(map[string]graph.Node, len(p.shareds)+len(p.inputs))
	for name, sv := range p.shareds {
		s[name] = sv
	}
	for name, in := range p.inputs {
		s[name] = in
	}
	return s
}

// BuildFunction compiles the named function. An empty name selects the
// sole declared function. A non-nil mode overrides the mode block.
func (p *Program) BuildFunction(ctx context.Context, name string, mode *compile.Mode) (*BuiltFunction, error) {
	var fb *functionBlock
	switch {
	case name == "" && len(p.functions) == 1:
		fb = p.functions[0]
	case name == "":
		return nil, fmt.Errorf("program declares %d functions; name one explicitly", len(p.functions))
	default:
		for _, cand := range p.functions {
			if cand.Name == name {
				fb = cand
				break
			}
		}
		if fb == nil {
			return nil, fmt.Errorf("no function %q in program", name)
		}
	}

	scope := p.scope()

	outs := make([]compile.Out, 0, len(fb.Outputs))
	outNames := make([]string, 0, len(fb.Outputs))
	for _, ob := range fb.Outputs {
		n, err := p.translate(ob.Expr, scope)
		if err != nil {
			return nil, fmt.Errorf("function %q, output %q: %w", fb.Name, ob.Name, err)
		}
		outs = append(outs, compile.Out{Node: n})
		outNames = append(outNames, ob.Name)
	}

	updates := make(map[*shared.Variable]graph.Node, len(fb.Updates))
	for _, ub := range fb.Updates {
		sv, ok := p.shareds[ub.Target]
		if !ok {
			return nil, fmt.Errorf("function %q: update target %q is not a shared variable", fb.Name, ub.Target)
		}
		expr, err := p.translate(ub.Expr, scope)
		if err != nil {
			return nil, fmt.Errorf("function %q, update %q: %w", fb.Name, ub.Target, err)
		}
		updates[sv] = expr
	}

	ins := make([]compile.In, 0, len(p.inputOrder))
	for _, name := range p.inputOrder {
		ins = append(ins, compile.In{Node: p.inputs[name], Borrow: p.inputBorrow[name]})
	}

	m := compile.DefaultMode()
	if fb.Mode != nil {
		linker := ""
		if fb.Mode.Linker != nil {
			linker = *fb.Mode.Linker
		}
		gc := true
		if fb.Mode.GC != nil {
			gc = *fb.Mode.GC
		}
		parsed, err := compile.ParseMode(linker, gc)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", fb.Name, err)
		}
		m = parsed
	}
	if mode != nil {
		m = *mode
	}

	opts := []compile.BuildOption{compile.WithName(fb.Name), compile.WithMode(m)}
	if len(updates) > 0 {
		opts = append(opts, compile.WithUpdates(updates))
	}
	f, err := compile.Build(ctx, ins, outs, opts...)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", fb.Name, err)
	}
	return &BuiltFunction{
		Function:    f,
		InputNames:  append([]string(nil), p.inputOrder...),
		OutputNames: outNames,
	}, nil
}
