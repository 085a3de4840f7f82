package ops

import (
	"fmt"
	"sync"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/value"
)

// Codec maps stable op names to op implementations so a serialized graph
// can be reconstructed. It holds all registered ops for a single
// application instance.
type Codec struct {
	mu     sync.RWMutex
	byName map[string]graph.Op
}

// NewCodec creates an empty Codec.
func NewCodec() *Codec {
	return &Codec{byName: make(map[string]graph.Op)}
}

// Register adds op under its codec name, replacing any previous entry.
func (c *Codec) Register(op graph.Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[op.Name()] = op
}

// Lookup resolves a codec name to its op.
func (c *Codec) Lookup(name string) (graph.Op, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("no op registered under name %q", name)
	}
	return op, nil
}

// DefaultCodec holds the built-in elementwise ops.
var DefaultCodec = func() *Codec {
	c := NewCodec()
	for _, op := range []graph.Op{
		addOp, subOp, mulOp, divOp,
		negOp{},
		castOp{to: value.Float64}, castOp{to: value.Int64},
	} {
		c.Register(op)
	}
	return c
}()

// Lookup resolves a codec name against the default codec.
func Lookup(name string) (graph.Op, error) {
	return DefaultCodec.Lookup(name)
}
