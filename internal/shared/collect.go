package shared

import (
	"slices"
	"sync"
)

// The process-wide recording pointer. Collect scopes swap it with stack
// discipline: an inner scope fully shadows the outer one and restores it
// on End. Safe for single-goroutine nested use; concurrent entry from
// independent goroutines has no defined interleaving.
var (
	collectMu sync.Mutex
	current   *Collection
)

// Collection records every shared variable constructed between
// BeginCollect and End, in construction order.
type Collection struct {
	vars  []*Variable
	prev  *Collection
	ended bool
}

// BeginCollect installs a fresh recording list, saving the previous one.
// Callers must pair it with End, normally via defer, so the saved
// pointer is restored even on an early error exit.
func BeginCollect() *Collection {
	collectMu.Lock()
	defer collectMu.Unlock()
	c := &Collection{prev: current}
	current = c
	return c
}

// End restores the previously active recording list. Idempotent.
func (c *Collection) End() {
	collectMu.Lock()
	defer collectMu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	current = c.prev
}

// Variables returns the recorded variables in construction order.
func (c *Collection) Variables() []*Variable {
	collectMu.Lock()
	defer collectMu.Unlock()
	return slices.Clone(c.vars)
}

// record appends v to the active recording list, if any.
func record(v *Variable) {
	collectMu.Lock()
	defer collectMu.Unlock()
	if current != nil {
		current.vars = append(current.vars, v)
	}
}
