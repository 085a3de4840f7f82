package link

import (
	"context"
	"fmt"

	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
)

// ContainerHolder is implemented by graph nodes that own their storage
// cell (shared variables). The linker aliases the existing cell instead
// of allocating a fresh one, so every compiled function referencing the
// node sees the same mutable state.
type ContainerHolder interface {
	Container() *Container
}

// Storage is the per-function cell table: one container per graph node
// that requires materialized storage, in deterministic traversal order.
type Storage struct {
	Walk  *graph.Walk
	Cells map[graph.Node]*Container
}

// BuildStorage traverses the graph behind outputs and allocates the cell
// table. Shared-variable nodes alias their existing container;
// constants get a pre-filled read-only cell; every other node gets a
// fresh empty cell.
func BuildStorage(ctx context.Context, outputs []graph.Node) (*Storage, error) {
	logger := ctxlog.FromContext(ctx)
	walk, err := graph.Traverse(outputs)
	if err != nil {
		return nil, err
	}

	cells := make(map[graph.Node]*Container, len(walk.Nodes))
	for _, n := range walk.Nodes {
		switch x := n.(type) {
		case ContainerHolder:
			cells[n] = x.Container()
		case *graph.Constant:
			c := NewContainer(n.Type(), false, nil)
			if err := c.Set(x.Value(), true); err != nil {
				return nil, fmt.Errorf("linking constant %q: %w", n.Name(), err)
			}
			c.SetReadonly(true)
			c.MarkImplicit()
			cells[n] = c
		default:
			cells[n] = NewContainer(n.Type(), false, nil)
		}
	}
	logger.Debug("Storage table built.", "nodes", len(walk.Nodes), "applies", len(walk.Applies))
	return &Storage{Walk: walk, Cells: cells}, nil
}
