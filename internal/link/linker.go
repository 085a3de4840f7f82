package link

import (
	"context"
	"fmt"

	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
)

// Linker turns a cell table and an ordered set of applies into an
// executable Plan. Variants differ only in when cells are cleared.
type Linker interface {
	// Name returns the linker's stable selector name.
	Name() string
	// AllowGC reports whether the linker clears dead cells.
	AllowGC() bool
	// Link compiles the storage's applies into a Plan whose designated
	// outputs are the given nodes.
	Link(ctx context.Context, storage *Storage, outputs []graph.Node) (*Plan, error)
}

// step is one compiled computation: an apply with its input and output
// cells pre-resolved, plus the cells whose last consumer this step is.
type step struct {
	apply   *graph.Apply
	inputs  []*Container
	outputs []*Container
	frees   []*Container
}

// Plan is a linked, repeatedly executable computation. Execution is
// single-threaded and synchronous; a plan is not reentrant while a call
// is in flight.
type Plan struct {
	steps   []step
	allowGC bool
}

// AllowGC reports the GC policy the plan was linked with.
func (p *Plan) AllowGC() bool { return p.allowGC }

// Execute runs every step in dependency order. A failing step aborts the
// call; cells populated before the failure keep their values.
func (p *Plan) Execute(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for i := range p.steps {
		st := &p.steps[i]
		inputs := make([]any, len(st.inputs))
		for j, c := range st.inputs {
			if !c.Filled() {
				return fmt.Errorf("step %d (%s): input %d has no value", i, st.apply.Op.Name(), j)
			}
			inputs[j] = c.GetInternal()
		}
		outputs, err := st.apply.Op.Perform(inputs)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.apply.Op.Name(), err)
		}
		if len(outputs) != len(st.outputs) {
			return fmt.Errorf("step %d (%s): op produced %d values, want %d", i, st.apply.Op.Name(), len(outputs), len(st.outputs))
		}
		for j, c := range st.outputs {
			if err := c.Set(outputs[j], true); err != nil {
				return fmt.Errorf("step %d (%s): storing output %d: %w", i, st.apply.Op.Name(), j, err)
			}
		}
		for _, c := range st.frees {
			c.Clear()
		}
	}
	logger.Debug("Plan executed.", "steps", len(p.steps), "gc", p.allowGC)
	return nil
}

// compileSteps resolves each apply's cells against the table.
func compileSteps(storage *Storage) []step {
	steps := make([]step, 0, len(storage.Walk.Applies))
	for _, a := range storage.Walk.Applies {
		st := step{apply: a}
		for _, in := range a.Inputs {
			st.inputs = append(st.inputs, storage.Cells[in])
		}
		for _, out := range a.Outputs {
			st.outputs = append(st.outputs, storage.Cells[out])
		}
		steps = append(steps, st)
	}
	return steps
}

// attachFrees computes, for every step, which cells can be cleared right
// after it runs: cells whose last consumer the step is, excluding
// designated outputs and implicit (shared or constant) cells.
func attachFrees(steps []step, storage *Storage, outputs []graph.Node) {
	keep := make(map[*Container]bool)
	for _, out := range outputs {
		keep[storage.Cells[out]] = true
	}
	lastUse := make(map[*Container]int)
	for i := range steps {
		for _, c := range steps[i].inputs {
			lastUse[c] = i
		}
	}
	for c, i := range lastUse {
		if keep[c] || c.Implicit() {
			continue
		}
		steps[i].frees = append(steps[i].frees, c)
	}
}

// PerformLinker executes one step per apply, in topological order. With
// AllowGC set, a cell is cleared immediately after its last consuming
// step rather than at end of call, bounding peak memory to the live set.
type PerformLinker struct {
	GC bool
}

// Name implements Linker.
func (l *PerformLinker) Name() string { return "perform" }

// AllowGC implements Linker.
func (l *PerformLinker) AllowGC() bool { return l.GC }

// Link implements Linker.
func (l *PerformLinker) Link(ctx context.Context, storage *Storage, outputs []graph.Node) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	steps := compileSteps(storage)
	if l.GC {
		attachFrees(steps, storage, outputs)
	}
	logger.Debug("Perform linker produced plan.", "steps", len(steps), "gc", l.GC)
	return &Plan{steps: steps, allowGC: l.GC}, nil
}

// BlockLinker compiles the whole graph into a single fused block. No
// per-step clearing ever happens; intermediate cells keep their buffers
// across calls so repeated invocation reuses prior allocations.
type BlockLinker struct{}

// Name implements Linker.
func (l *BlockLinker) Name() string { return "block" }

// AllowGC implements Linker.
func (l *BlockLinker) AllowGC() bool { return false }

// Link implements Linker.
func (l *BlockLinker) Link(ctx context.Context, storage *Storage, outputs []graph.Node) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	steps := compileSteps(storage)
	logger.Debug("Block linker produced single-block plan.", "fused_steps", len(steps))
	return &Plan{steps: steps, allowGC: false}, nil
}

// ByName resolves a linker selector, optionally forcing the GC flag.
func ByName(name string, gc bool) (Linker, error) {
	switch name {
	case "perform", "":
		return &PerformLinker{GC: gc}, nil
	case "block":
		return &BlockLinker{}, nil
	default:
		return nil, fmt.Errorf("unknown linker %q", name)
	}
}
