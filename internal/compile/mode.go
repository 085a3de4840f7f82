// Package compile builds executable functions out of dataflow graphs:
// it allocates the storage cell table, links it through a linker
// variant, and drives per-call input binding, step execution, output
// exposure and post-call shared-variable updates.
package compile

import "github.com/vk/tensorlink/internal/link"

// Mode selects the execution strategy for a compiled function.
type Mode struct {
	Linker link.Linker
}

// DefaultMode executes step by step with garbage collection enabled:
// each intermediate cell is cleared right after its last consumer.
func DefaultMode() Mode {
	return Mode{Linker: &link.PerformLinker{GC: true}}
}

// NoGCMode executes step by step but never clears intermediates, so
// repeated calls reuse prior allocations at the cost of peak memory.
func NoGCMode() Mode {
	return Mode{Linker: &link.PerformLinker{GC: false}}
}

// BlockMode fuses the whole graph into a single block with no per-step
// clearing.
func BlockMode() Mode {
	return Mode{Linker: &link.BlockLinker{}}
}

// ParseMode resolves a linker selector name and GC flag into a Mode.
func ParseMode(linker string, gc bool) (Mode, error) {
	l, err := link.ByName(linker, gc)
	if err != nil {
		return Mode{}, err
	}
	return Mode{Linker: l}, nil
}
