package compile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/link"
	"github.com/vk/tensorlink/internal/shared"
	"github.com/vk/tensorlink/internal/value"
)

// In declares one caller-supplied function input. With Borrow set, the
// argument is stored by reference into the input cell; otherwise it is
// deep-copied first.
type In struct {
	Node   graph.Node
	Borrow bool
}

// Out declares one designated function output. With Borrow set, the
// internal result object is returned directly; otherwise the caller
// gets an independent copy.
type Out struct {
	Node   graph.Node
	Borrow bool
}

// updateBinding pairs a shared variable with the compiled expression
// whose result is written back into its cell after each call.
type updateBinding struct {
	target *shared.Variable
	expr   graph.Node
	cell   *link.Container
}

// Function is a compiled, repeatedly callable computation. One call runs
// to completion (or failure) before the function is reentrant for the
// next; concurrent invocation of functions sharing a storage cell must
// be serialized by the caller.
type Function struct {
	id      string
	name    string
	mode    Mode
	storage *link.Storage
	plan    *link.Plan

	inputs  []In
	inCells []*link.Container

	outputs  []Out
	outCells []*link.Container

	updates    []updateBinding
	sharedVars []*shared.Variable
}

type buildConfig struct {
	mode             Mode
	name             string
	updates          map[*shared.Variable]graph.Node
	noDefaultUpdates bool
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithMode selects the linker and GC policy.
func WithMode(m Mode) BuildOption { return func(c *buildConfig) { c.mode = m } }

// WithName names the function for logs and the snapshot store.
func WithName(name string) BuildOption { return func(c *buildConfig) { c.name = name } }

// WithUpdates installs explicit update expressions, replacing the
// targets' default updates.
func WithUpdates(updates map[*shared.Variable]graph.Node) BuildOption {
	return func(c *buildConfig) { c.updates = updates }
}

// WithNoDefaultUpdates suppresses every default update not explicitly
// listed via WithUpdates.
func WithNoDefaultUpdates() BuildOption {
	return func(c *buildConfig) { c.noDefaultUpdates = true }
}

// Build compiles the graph behind outputs into a Function. Every graph
// root must be a declared input, a shared variable (aliased, not
// copied) or a constant.
func Build(ctx context.Context, inputs []In, outputs []Out, opts ...BuildOption) (*Function, error) {
	logger := ctxlog.FromContext(ctx)
	cfg := buildConfig{mode: DefaultMode()}
	for _, opt := range opts {
		opt(&cfg)
	}

	outNodes := make([]graph.Node, len(outputs))
	for i, out := range outputs {
		outNodes[i] = out.Node
	}

	// Discover the shared variables reachable from the user outputs so
	// their default updates can be folded into the executed step
	// sequence.
	reachable, err := graph.Ancestors(outNodes)
	if err != nil {
		return nil, err
	}
	var sharedVars []*shared.Variable
	for _, n := range reachable {
		if sv, ok := n.(*shared.Variable); ok {
			sharedVars = append(sharedVars, sv)
		}
	}

	// Resolve update expressions: explicit build-time updates win, then
	// default updates unless suppressed.
	var updates []updateBinding
	consumed := make(map[*shared.Variable]bool)
	for _, sv := range sharedVars {
		if expr, ok := cfg.updates[sv]; ok {
			converted, err := shared.ConvertNode(sv.Type(), expr)
			if err != nil {
				return nil, fmt.Errorf("update for %q: %w", sv.Name(), err)
			}
			updates = append(updates, updateBinding{target: sv, expr: converted})
			consumed[sv] = true
			continue
		}
		if cfg.noDefaultUpdates {
			continue
		}
		if du := sv.DefaultUpdate(); du != nil {
			updates = append(updates, updateBinding{target: sv, expr: du})
		}
	}
	// Explicit updates may target shared variables the outputs never
	// touch; honor those too.
	for sv, expr := range cfg.updates {
		if consumed[sv] {
			continue
		}
		converted, err := shared.ConvertNode(sv.Type(), expr)
		if err != nil {
			return nil, fmt.Errorf("update for %q: %w", sv.Name(), err)
		}
		updates = append(updates, updateBinding{target: sv, expr: converted})
		sharedVars = append(sharedVars, sv)
	}

	planOutputs := make([]graph.Node, 0, len(outNodes)+len(updates))
	planOutputs = append(planOutputs, outNodes...)
	for _, ub := range updates {
		planOutputs = append(planOutputs, ub.expr)
	}

	storage, err := link.BuildStorage(ctx, planOutputs)
	if err != nil {
		return nil, err
	}

	// Bind unused declared inputs so argument validation still applies
	// to them.
	inputSet := make(map[graph.Node]bool, len(inputs))
	for _, in := range inputs {
		inputSet[in.Node] = true
		if _, ok := storage.Cells[in.Node]; !ok {
			storage.Cells[in.Node] = link.NewContainer(in.Node.Type(), false, nil)
			storage.Walk.Nodes = append(storage.Walk.Nodes, in.Node)
			storage.Walk.Roots = append(storage.Walk.Roots, in.Node)
		}
	}
	for _, root := range storage.Walk.Roots {
		if inputSet[root] {
			continue
		}
		if _, ok := root.(link.ContainerHolder); ok {
			continue
		}
		if _, ok := root.(*graph.Constant); ok {
			continue
		}
		return nil, fmt.Errorf("%w: graph root %s is not bound to a function input", value.ErrType, root)
	}

	plan, err := cfg.mode.Linker.Link(ctx, storage, planOutputs)
	if err != nil {
		return nil, err
	}

	f := &Function{
		id:         uuid.NewString(),
		name:       cfg.name,
		mode:       cfg.mode,
		storage:    storage,
		plan:       plan,
		inputs:     inputs,
		outputs:    outputs,
		updates:    updates,
		sharedVars: sharedVars,
	}
	for _, in := range inputs {
		f.inCells = append(f.inCells, storage.Cells[in.Node])
	}
	for _, out := range outputs {
		f.outCells = append(f.outCells, storage.Cells[out.Node])
	}
	for i := range f.updates {
		f.updates[i].cell = storage.Cells[f.updates[i].expr]
	}

	logger.Debug("Function compiled.",
		"name", f.name,
		"id", f.id,
		"linker", cfg.mode.Linker.Name(),
		"gc", cfg.mode.Linker.AllowGC(),
		"inputs", len(inputs),
		"outputs", len(outputs),
		"updates", len(updates),
	)
	return f, nil
}

// ID returns the function's unique identity.
func (f *Function) ID() string { return f.id }

// Name returns the function's display name.
func (f *Function) Name() string { return f.name }

// Mode returns the mode the function was compiled with.
func (f *Function) Mode() Mode { return f.mode }

// SharedVariables returns the shared variables this function reads or
// updates, in discovery order.
func (f *Function) SharedVariables() []*shared.Variable { return f.sharedVars }

// Arity returns the number of declared inputs.
func (f *Function) Arity() int { return len(f.inputs) }

// OutputArity returns the number of designated outputs.
func (f *Function) OutputArity() int { return len(f.outputs) }

// Invoke runs one call: bind arguments, execute steps in dependency
// order, expose outputs, apply post-call updates, then reclaim per the
// GC policy. An argument failing validation aborts before any step
// executes. A failing step leaves already-populated cells in place;
// callers must re-bind inputs before the next call rather than assume
// clean state.
//
// explicitUpdates, when non-nil, overrides updates per shared variable
// for this call only: a present entry is written verbatim instead of
// the variable's compiled update expression.
func (f *Function) Invoke(ctx context.Context, args []any, explicitUpdates map[*shared.Variable]any) ([]any, error) {
	logger := ctxlog.FromContext(ctx)
	if len(args) != len(f.inputs) {
		return nil, fmt.Errorf("%w: function %q takes %d arguments, got %d", value.ErrType, f.name, len(f.inputs), len(args))
	}

	// Bind all inputs before the first step runs, so a bad argument
	// never causes partial execution.
	for i, in := range f.inputs {
		if err := f.inCells[i].Set(args[i], in.Borrow); err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, in.Node, err)
		}
	}

	if err := f.plan.Execute(ctx); err != nil {
		return nil, err
	}

	results := make([]any, len(f.outputs))
	for i, out := range f.outputs {
		results[i] = f.outCells[i].Get(out.Borrow)
	}

	// Post-call updates: explicit per-call overrides win over compiled
	// update expressions.
	overridden := make(map[*shared.Variable]bool, len(explicitUpdates))
	for _, ub := range f.updates {
		if v, ok := explicitUpdates[ub.target]; ok {
			if err := ub.target.SetValue(v, false); err != nil {
				return nil, fmt.Errorf("explicit update for %q: %w", ub.target.Name(), err)
			}
			overridden[ub.target] = true
			continue
		}
		if !ub.cell.Filled() {
			return nil, fmt.Errorf("update expression for %q produced no value", ub.target.Name())
		}
		if err := ub.target.Container().Set(ub.cell.GetInternal(), true); err != nil {
			return nil, fmt.Errorf("writing update for %q: %w", ub.target.Name(), err)
		}
	}
	for sv, v := range explicitUpdates {
		if overridden[sv] {
			continue
		}
		if err := sv.SetValue(v, false); err != nil {
			return nil, fmt.Errorf("explicit update for %q: %w", sv.Name(), err)
		}
	}

	if f.plan.AllowGC() {
		for _, c := range f.outCells {
			if !c.Implicit() {
				c.Clear()
			}
		}
		for _, ub := range f.updates {
			if !ub.cell.Implicit() {
				ub.cell.Clear()
			}
		}
		for _, c := range f.inCells {
			if !c.Implicit() {
				c.Clear()
			}
		}
	}

	logger.Debug("Function invoked.", "name", f.name, "outputs", len(results))
	return results, nil
}
